package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/pipeline"
)

func init() {
	color.NoColor = true
}

func TestRenderer_Success(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.Emit(pipeline.StatusChanged{Phase: pipeline.PhaseKeystore, Message: "Creating keystore..."})
	r.Emit(pipeline.ProgressAdvanced{Phase: pipeline.PhaseKeystore, Delta: 5, Total: 5})
	r.Emit(pipeline.StatusChanged{Phase: pipeline.PhaseDecompile, Message: "Decompiling APK..."})
	r.Emit(pipeline.ProgressAdvanced{Phase: pipeline.PhaseDecompile, Delta: 10, Total: 15})
	r.Emit(pipeline.StatusChanged{Phase: pipeline.PhaseDone, Message: "Done!"})
	r.Emit(pipeline.Succeeded{ArtifactPath: "output/MyGame_signed.apk", ArtifactSize: 3 * 1024 * 1024, Message: "Done!"})

	out := buf.String()
	assert.Contains(t, out, "[  0%] Creating keystore...")
	assert.Contains(t, out, "[  5%] Decompiling APK...")
	assert.Contains(t, out, "[100%] ✓ Done!")
	assert.Contains(t, out, "output/MyGame_signed.apk (3.0 MiB)")

	ok, failed := r.result()
	require.NotNil(t, ok)
	assert.Nil(t, failed)
}

func TestRenderer_Failure(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.Emit(pipeline.Failed{
		Phase:   pipeline.PhaseDecompile,
		Kind:    domain.FailureKindToolFailure,
		Message: "Decompilation failed",
		Detail:  "apktool exited with code 1",
	})

	assert.Contains(t, buf.String(), "✗ Decompilation failed")
	assert.Contains(t, buf.String(), "apktool exited with code 1")

	ok, failed := r.result()
	assert.Nil(t, ok)
	require.NotNil(t, failed)
	assert.Equal(t, domain.FailureKindToolFailure, failed.Kind)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KiB", humanSize(1536))
	assert.Equal(t, "2.0 GiB", humanSize(2<<30))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePackageID("com.example.game"))
	assert.Error(t, validatePackageID("game"))
	assert.NoError(t, validateAppName("My Game"))
	assert.Error(t, validateAppName("a/b"))
	assert.NoError(t, validateDir(t.TempDir()))
	assert.Error(t, validateFile(t.TempDir()))
}

func TestRenderer_DetailFirstLine(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)
	r.Emit(pipeline.Failed{Message: "Signing failed", Detail: "apksigner exited with code 1\nstack line"})
	assert.NotContains(t, buf.String(), "stack line")

	buf.Reset()
	r = newRenderer(&buf, true)
	r.Emit(pipeline.Failed{Message: "Signing failed", Detail: "apksigner exited with code 1\nstack line"})
	assert.Contains(t, buf.String(), "stack line")
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRequest() BuildRequest {
	return BuildRequest{
		ContentDir: "/games/test",
		IconFile:   "/games/icon.png",
		PackageID:  "com.test.app",
		AppName:    "TestGame",
	}
}

func TestBuildRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *BuildRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *BuildRequest) {}},
		{name: "missing content dir", mutate: func(r *BuildRequest) { r.ContentDir = "" }, wantErr: true},
		{name: "missing icon", mutate: func(r *BuildRequest) { r.IconFile = "  " }, wantErr: true},
		{name: "missing package", mutate: func(r *BuildRequest) { r.PackageID = "" }, wantErr: true},
		{name: "missing name", mutate: func(r *BuildRequest) { r.AppName = "" }, wantErr: true},
		{name: "single segment package", mutate: func(r *BuildRequest) { r.PackageID = "app" }, wantErr: true},
		{name: "segment starts with digit", mutate: func(r *BuildRequest) { r.PackageID = "com.1app" }, wantErr: true},
		{name: "underscore package", mutate: func(r *BuildRequest) { r.PackageID = "org.my_game.v2" }},
		{name: "name with slash", mutate: func(r *BuildRequest) { r.AppName = "a/b" }, wantErr: true},
		{name: "name with dots", mutate: func(r *BuildRequest) { r.AppName = ".." }, wantErr: true},
		{name: "unicode name", mutate: func(r *BuildRequest) { r.AppName = "테스트 게임" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildRequest_SignedFileName(t *testing.T) {
	assert.Equal(t, "TestGame_signed.apk", validRequest().SignedFileName())
}

func TestBuildStatus_IsTerminal(t *testing.T) {
	assert.False(t, BuildStatusQueued.IsTerminal())
	assert.False(t, BuildStatusRunning.IsTerminal())
	assert.True(t, BuildStatusSucceeded.IsTerminal())
	assert.True(t, BuildStatusFailed.IsTerminal())
}

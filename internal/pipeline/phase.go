package pipeline

// Phase 流水线阶段
type Phase string

const (
	PhasePreflight  Phase = "preflight" // 请求校验与前置检查，不计进度
	PhaseKeystore   Phase = "keystore"
	PhaseDecompile  Phase = "decompile"
	PhaseAssets     Phase = "assets"
	PhaseIcon       Phase = "icon"
	PhaseManifest   Phase = "manifest"
	PhaseRebuild    Phase = "rebuild"
	PhaseDex        Phase = "dex"
	PhaseNativeLibs Phase = "native_libs"
	PhaseValidate   Phase = "validate"
	PhaseSign       Phase = "sign"
	PhaseVerify     Phase = "verify"
	PhaseDone       Phase = "done"
)

// TotalProgress 全部阶段完成后的进度
const TotalProgress = 100

// Step 阶段及其进度权重
type Step struct {
	Phase  Phase
	Weight int
}

// Steps 执行顺序，不可跳过或重排
var Steps = []Step{
	{PhaseKeystore, 5},
	{PhaseDecompile, 10},
	{PhaseAssets, 15},
	{PhaseIcon, 10},
	{PhaseManifest, 5},
	{PhaseRebuild, 20},
	{PhaseDex, 10},
	{PhaseNativeLibs, 10},
	{PhaseValidate, 5},
	{PhaseSign, 5},
	{PhaseVerify, 5},
}

// Weight 阶段的进度增量
func Weight(phase Phase) int {
	for _, s := range Steps {
		if s.Phase == phase {
			return s.Weight
		}
	}
	return 0
}

// Index 阶段在执行顺序中的位置，preflight 为 -1
func Index(phase Phase) int {
	for i, s := range Steps {
		if s.Phase == phase {
			return i
		}
	}
	if phase == PhaseDone {
		return len(Steps)
	}
	return -1
}

package constants

// ExecutionProvider names an ONNX Runtime execution provider.
type ExecutionProvider string

const (
	ProviderCUDA     ExecutionProvider = "CUDAExecutionProvider"
	ProviderTensorRT ExecutionProvider = "TensorrtExecutionProvider"
	ProviderOpenVINO ExecutionProvider = "OpenVINOExecutionProvider"
	ProviderCoreML   ExecutionProvider = "CoreMLExecutionProvider"
	ProviderCPU      ExecutionProvider = "CPUExecutionProvider"
)

type ModelStatus string

const (
	ModelStatusUnknown ModelStatus = "unknown"
	ModelStatusLoading ModelStatus = "loading"
	ModelStatusReady   ModelStatus = "ready"
	ModelStatusFailed  ModelStatus = "failed"
)

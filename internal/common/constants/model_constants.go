package constants

// ModelEndpointType selects which metadata endpoint describes a model's artifacts.
type ModelEndpointType string

const (
	ModelEndpointORT       ModelEndpointType = "ort"
	ModelEndpointCoreModel ModelEndpointType = "core_model"
)

// ResizeMethod is the resize policy declared in a model's preprocessing spec.
type ResizeMethod string

const (
	ResizeStretch       ResizeMethod = "Stretch to"
	ResizeFitBlackEdges ResizeMethod = "Fit (black edges) in"
	ResizeFitWhiteEdges ResizeMethod = "Fit (white edges) in"
)

// DefaultInputDimension is used for symbolic height/width when the spec declares no resize.
const DefaultInputDimension = 640

// ContrastType is the contrast adjustment declared in a preprocessing spec.
type ContrastType string

const (
	ContrastStretching            ContrastType = "Contrast Stretching"
	ContrastHistogramEqualization ContrastType = "Histogram Equalization"
	ContrastAdaptiveEqualization  ContrastType = "Adaptive Equalization"
)

// Well-known artifact file names.
const (
	EnvironmentFile = "environment.json"
	ClassNamesFile  = "class_names.txt"
	ONNXWeightsFile = "weights.onnx"
	CoreWeightsFile = "model.pt"
)

// Environment file keys.
const (
	EnvPreprocessing = "PREPROCESSING"
	EnvClassMap      = "CLASS_MAP"
	EnvColors        = "COLORS"
)

// Package model loads servable models: it fetches a model's artifacts, reads
// its cached configuration and opens an inference session for it.
package model

import (
	"slices"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// Variant describes what a kind of model needs on disk and where its
// artifacts are described.
type Variant interface {
	Name() string
	// RequiredFiles lists the variant's files other than the weights.
	RequiredFiles() []string
	WeightsFilename() string
	Endpoint() constants.ModelEndpointType
}

// Manifest is every file a variant needs cached, weights last.
func Manifest(v Variant) []string {
	files := slices.Clone(v.RequiredFiles())
	if w := v.WeightsFilename(); !slices.Contains(files, w) {
		files = append(files, w)
	}
	return files
}

// ONNX is a detector-style model served through ONNX Runtime.
type ONNX struct{}

func (ONNX) Name() string { return "onnx" }

func (ONNX) RequiredFiles() []string {
	return []string{constants.EnvironmentFile, constants.ClassNamesFile}
}

func (ONNX) WeightsFilename() string { return constants.ONNXWeightsFile }

func (ONNX) Endpoint() constants.ModelEndpointType { return constants.ModelEndpointORT }

// Core is a model whose weights are consumed by an external runtime. Its
// artifacts come from the core model endpoint and have no environment.
type Core struct {
	Files []string
}

func (Core) Name() string { return "core" }

func (c Core) RequiredFiles() []string {
	if len(c.Files) == 0 {
		return []string{constants.CoreWeightsFile}
	}
	return slices.Clone(c.Files)
}

func (Core) WeightsFilename() string { return constants.CoreWeightsFile }

func (Core) Endpoint() constants.ModelEndpointType { return constants.ModelEndpointCoreModel }

// VariantByName returns the variant called name.
func VariantByName(name string) (Variant, bool) {
	switch name {
	case "onnx":
		return ONNX{}, true
	case "core":
		return Core{}, true
	default:
		return nil, false
	}
}

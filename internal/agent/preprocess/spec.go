// Package preprocess turns raw encoded images into network-ready tensors the
// same way a model's training pipeline prepared its images.
package preprocess

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// Spec is the preprocessing configuration stored as a JSON string under the
// PREPROCESSING key of a model's environment.
type Spec struct {
	AutoOrient *Step         `json:"auto-orient,omitempty"`
	Resize     *ResizeStep   `json:"resize,omitempty"`
	Contrast   *ContrastStep `json:"contrast,omitempty"`
	Grayscale  *Step         `json:"grayscale,omitempty"`
	StaticCrop *CropStep     `json:"static-crop,omitempty"`
}

// Step is a toggleable preprocessing step. A declared step without an
// "enabled" field is enabled.
type Step struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether a declared step should run.
func (s *Step) IsEnabled() bool {
	return s != nil && (s.Enabled == nil || *s.Enabled)
}

type ResizeStep struct {
	Step
	Format string  `json:"format"`
	Width  FlexInt `json:"width"`
	Height FlexInt `json:"height"`
}

type ContrastStep struct {
	Step
	Type constants.ContrastType `json:"type"`
}

// CropStep bounds are percentages of the image size.
type CropStep struct {
	Step
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// FlexInt accepts a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse integer %s: %w", b, err)
	}
	*f = FlexInt(v)
	return nil
}

// ParseSpec decodes the PREPROCESSING payload.
func ParseSpec(raw string) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return Spec{}, fmt.Errorf("decode preprocessing spec: %w", err)
	}
	return spec, nil
}

// ResizeRequested reports whether the spec declares a resize step.
func (s Spec) ResizeRequested() bool {
	return s.Resize != nil
}

// ResizePolicy picks the resize method. Unrecognised formats, and specs
// that do not resize at all, use stretch.
func (s Spec) ResizePolicy() constants.ResizeMethod {
	if !s.ResizeRequested() {
		return constants.ResizeStretch
	}
	switch m := constants.ResizeMethod(s.Resize.Format); m {
	case constants.ResizeStretch, constants.ResizeFitBlackEdges, constants.ResizeFitWhiteEdges:
		return m
	default:
		return constants.ResizeStretch
	}
}

// Package geometry fixes a model's input size from the engine's declared
// input shape and the model's preprocessing spec.
package geometry

import (
	"fmt"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// Geometry is resolved once per loaded model and never changes.
type Geometry struct {
	// BatchSize is the fixed batch dimension; zero when Dynamic.
	BatchSize int
	Dynamic   bool
	Height    int
	Width     int
}

// Resolve reads an NCHW input shape in which any non-positive dimension is
// symbolic. Symbolic height or width take the spec's resize target, or
// DefaultInputDimension when the spec does not resize.
func Resolve(shape []int64, spec preprocess.Spec) (Geometry, error) {
	if len(shape) != 4 {
		return Geometry{}, fmt.Errorf("expected 4 input dimensions, got %v", shape)
	}
	g := Geometry{
		Height: int(shape[2]),
		Width:  int(shape[3]),
	}
	if symbolic(shape[2]) || symbolic(shape[3]) {
		if spec.ResizeRequested() {
			g.Height, g.Width = int(spec.Resize.Height), int(spec.Resize.Width)
		} else {
			g.Height, g.Width = constants.DefaultInputDimension, constants.DefaultInputDimension
		}
	}
	if g.Height <= 0 || g.Width <= 0 {
		return Geometry{}, fmt.Errorf("cannot resolve input size from shape %v and resize %dx%d", shape, g.Width, g.Height)
	}

	if symbolic(shape[0]) {
		g.Dynamic = true
	} else {
		g.BatchSize = int(shape[0])
	}
	return g, nil
}

// Accepts reports whether a batch of n images can be run as one call. A
// fixed batch dimension takes exactly BatchSize images.
func (g Geometry) Accepts(n int) bool {
	if n <= 0 {
		return false
	}
	return g.Dynamic || n == g.BatchSize
}

func (g Geometry) String() string {
	batch := "dynamic"
	if !g.Dynamic {
		batch = fmt.Sprint(g.BatchSize)
	}
	return fmt.Sprintf("batch=%s %dx%d", batch, g.Width, g.Height)
}

func symbolic(d int64) bool {
	return d <= 0
}

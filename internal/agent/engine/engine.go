// Package engine is the boundary to the inference runtime. Everything above
// it deals in Session values and float32 tensors.
package engine

import (
	"context"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
)

// Output is one named model output.
type Output struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Session is a loaded model. Implementations must allow concurrent Run.
type Session interface {
	InputName() string
	// InputShape is the declared NCHW shape; symbolic dimensions are <= 0.
	InputShape() []int64
	Run(ctx context.Context, input *preprocess.Tensor) ([]Output, error)
	Close() error
}

// Opener creates sessions from weights on disk.
type Opener interface {
	Open(modelID, weightsPath string) (Session, error)
}

package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/engine"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/environment"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/geometry"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// ErrModelClosed is returned by calls on a model after Close.
var ErrModelClosed = errors.New("model closed")

// OnnxModel is a loaded ONNX model. It is safe for concurrent use.
type OnnxModel struct {
	id       modelid.ID
	boot     *environment.Bootstrap
	geometry geometry.Geometry
	pipeline *preprocess.Pipeline

	mu      sync.RWMutex
	session engine.Session
	closed  bool
}

// Result is the raw output of one inference call.
type Result struct {
	Outputs []engine.Output
	// Dims are the per-image sizes before resizing, in input order.
	Dims []preprocess.Dims
}

func (m *OnnxModel) ID() modelid.ID { return m.id }

func (m *OnnxModel) Geometry() geometry.Geometry { return m.geometry }

func (m *OnnxModel) Classes() *environment.ClassRegistry { return m.boot.Classes }

func (m *OnnxModel) Environment() *environment.Environment { return m.boot.Environment }

// Preprocess turns encoded images into one batch tensor.
func (m *OnnxModel) Preprocess(ctx context.Context, images [][]byte, o preprocess.Overrides) (*preprocess.Tensor, []preprocess.Dims, error) {
	if len(images) == 1 {
		t, d, err := m.pipeline.Preprocess(images[0], o)
		if err != nil {
			return nil, nil, err
		}
		return t, []preprocess.Dims{d}, nil
	}
	return m.pipeline.PreprocessBatch(ctx, images, o)
}

// Infer preprocesses images and runs them through the session as one batch.
// A model with a fixed batch of one runs several images one at a time;
// other fixed-batch models need exactly their batch size.
func (m *OnnxModel) Infer(ctx context.Context, images [][]byte, o preprocess.Overrides) (*Result, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("infer: no images")
	}
	if !m.geometry.Dynamic && m.geometry.BatchSize == 1 && len(images) > 1 {
		return m.inferEach(ctx, images, o)
	}
	if !m.geometry.Accepts(len(images)) {
		return nil, fmt.Errorf("batch of %d does not match fixed batch size %d of %s", len(images), m.geometry.BatchSize, m.id)
	}
	batch, dims, err := m.Preprocess(ctx, images, o)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrModelClosed
	}
	outputs, err := m.session.Run(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("infer %s: %w", m.id, err)
	}
	return &Result{Outputs: outputs, Dims: dims}, nil
}

func (m *OnnxModel) inferEach(ctx context.Context, images [][]byte, o preprocess.Overrides) (*Result, error) {
	merged := &Result{Dims: make([]preprocess.Dims, 0, len(images))}
	for i, img := range images {
		res, err := m.Infer(ctx, [][]byte{img}, o)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if err := appendOutputs(merged, res); err != nil {
			return nil, fmt.Errorf("infer %s: %w", m.id, err)
		}
	}
	return merged, nil
}

// appendOutputs concatenates res onto dst along the batch axis.
func appendOutputs(dst, res *Result) error {
	dst.Dims = append(dst.Dims, res.Dims...)
	if dst.Outputs == nil {
		dst.Outputs = make([]engine.Output, len(res.Outputs))
		for i, out := range res.Outputs {
			dst.Outputs[i] = engine.Output{
				Name:  out.Name,
				Shape: slices.Clone(out.Shape),
				Data:  slices.Clone(out.Data),
			}
		}
		return nil
	}
	if len(dst.Outputs) != len(res.Outputs) {
		return fmt.Errorf("got %d outputs, want %d", len(res.Outputs), len(dst.Outputs))
	}
	for i, out := range res.Outputs {
		d := &dst.Outputs[i]
		if out.Name != d.Name || len(out.Shape) == 0 || len(d.Shape) == 0 || !slices.Equal(out.Shape[1:], d.Shape[1:]) {
			return fmt.Errorf("output %q shape %v does not stack onto %v", out.Name, out.Shape, d.Shape)
		}
		d.Shape[0] += out.Shape[0]
		d.Data = append(d.Data, out.Data...)
	}
	return nil
}

// Close waits for in-flight inference and releases the session.
func (m *OnnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.session.Close()
}

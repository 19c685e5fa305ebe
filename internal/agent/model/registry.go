package model

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// Registry keeps loaded ONNX models in a bounded cache. Concurrent requests
// for the same identity share one load; distinct identities load in
// parallel. Evicted models are closed.
type Registry struct {
	loader *Loader
	group  singleflight.Group
	models *lru.Cache[string, *OnnxModel]
}

func NewRegistry(loader *Loader, size int) (*Registry, error) {
	models, err := lru.NewWithEvict(size, func(key string, m *OnnxModel) {
		logrus.WithField("model_id", key).Info("Unloading model")
		if err := m.Close(); err != nil {
			logrus.WithField("model_id", key).WithError(err).Warn("Failed to close model session")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &Registry{loader: loader, models: models}, nil
}

// Get returns the loaded model for id, loading it on first use. A caller
// whose ctx ends stops waiting; the shared load continues for the others.
func (r *Registry) Get(ctx context.Context, id modelid.ID, opts LoadOptions) (*OnnxModel, error) {
	key := id.String()
	if m, ok := r.models.Get(key); ok {
		return m, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		if m, ok := r.models.Get(key); ok {
			return m, nil
		}
		m, err := r.loader.LoadONNX(context.WithoutCancel(ctx), id, opts)
		if err != nil {
			return nil, err
		}
		r.models.Add(key, m)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*OnnxModel), nil
	}
}

// Loaded lists the identities currently in memory, least recent first.
func (r *Registry) Loaded() []string {
	return r.models.Keys()
}

// Unload closes and forgets id.
func (r *Registry) Unload(id modelid.ID) bool {
	return r.models.Remove(id.String())
}

// Close unloads every model.
func (r *Registry) Close() {
	r.models.Purge()
}

package model

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/cache"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/config"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/engine"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/environment"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/fetcher"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/geometry"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/modelapi"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/source"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// LoadOptions are per-load overrides.
type LoadOptions struct {
	// APIKey replaces the configured key for this load.
	APIKey string
}

// Loader turns model identities into loaded models. It does not deduplicate
// concurrent loads of one identity; Registry does.
type Loader struct {
	cfg     *config.Config
	store   *cache.Store
	fetcher *fetcher.Fetcher
	opener  engine.Opener
}

func NewLoader(cfg *config.Config, store *cache.Store, f *fetcher.Fetcher, opener engine.Opener) *Loader {
	return &Loader{cfg: cfg, store: store, fetcher: f, opener: opener}
}

// NewLoaderFromConfig wires the cache, artifact sources and ONNX Runtime
// described by cfg.
func NewLoaderFromConfig(cfg *config.Config) (*Loader, error) {
	store, err := cache.New(cfg.ModelCacheDir)
	if err != nil {
		return nil, err
	}
	resolver := source.NewResolver(cfg.ObjectStore)
	if !resolver.IsBulkSourceAvailable() {
		logrus.WithError(resolver.UnavailableReason()).Debug("Bulk artifact source disabled")
	}
	api := modelapi.New(cfg.APIBaseURL, modelapi.WithLicenseServer(cfg.LicenseServer))
	opener := &engine.ORTOpener{
		LibraryPath:       cfg.ORTLibraryPath,
		Providers:         cfg.ExecutionProviders,
		RequiredProviders: cfg.RequiredProviders,
		TensorRTCachePath: cfg.TensorRTCachePath,
	}
	return NewLoader(cfg, store, fetcher.New(store, resolver, api, cfg.WeightsRefreshAfter), opener), nil
}

func (l *Loader) Store() *cache.Store {
	return l.store
}

// Fetch makes sure v's artifacts for id are cached without loading anything.
func (l *Loader) Fetch(ctx context.Context, id modelid.ID, v Variant, opts LoadOptions) error {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = l.cfg.APIKey
	}
	if err := l.cfg.CheckCredentials(apiKey); err != nil {
		return err
	}
	return l.fetcher.EnsureArtifacts(ctx, fetcher.Request{
		ID:              id,
		Manifest:        Manifest(v),
		APIKey:          apiKey,
		DeviceID:        l.cfg.DeviceID,
		Endpoint:        v.Endpoint(),
		WeightsFilename: v.WeightsFilename(),
	})
}

// LoadONNX fetches, bootstraps and opens an ONNX model.
func (l *Loader) LoadONNX(ctx context.Context, id modelid.ID, opts LoadOptions) (*OnnxModel, error) {
	log := logrus.WithField("model_id", id.String())
	variant := ONNX{}
	if err := l.Fetch(ctx, id, variant, opts); err != nil {
		return nil, err
	}
	boot, err := environment.Load(l.store, id, Manifest(variant))
	if err != nil {
		return nil, err
	}

	log.Info("Creating inference session")
	start := time.Now()
	session, err := l.opener.Open(id.String(), l.store.Path(id, variant.WeightsFilename()))
	if err != nil {
		return nil, err
	}
	log.Infof("Session created in %s", time.Since(start))

	geo, err := geometry.Resolve(session.InputShape(), boot.Preprocessing)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("resolve geometry of %s: %w", id, err)
	}
	if geo.Dynamic {
		log.Infof("Model %s is loaded with dynamic batching enabled", id)
	} else {
		log.Infof("Model %s is loaded with dynamic batching disabled", id)
	}

	pipeline := preprocess.NewPipeline(boot.Preprocessing, boot.ResizeMethod, geo.Width, geo.Height,
		preprocess.WithAutoOrientDisabled(l.cfg.DisablePreprocAutoOrient),
		preprocess.WithWorkers(l.cfg.Workers()),
	)
	return &OnnxModel{
		id:       id,
		boot:     boot,
		geometry: geo,
		pipeline: pipeline,
		session:  session,
	}, nil
}

// LoadCore fetches the artifacts of a core model.
func (l *Loader) LoadCore(ctx context.Context, id modelid.ID, v Core, opts LoadOptions) (*CoreModel, error) {
	if err := l.Fetch(ctx, id, v, opts); err != nil {
		return nil, err
	}
	logrus.WithField("model_id", id.String()).Debug("Core model artifacts ready")
	return &CoreModel{id: id, variant: v, store: l.store}, nil
}

// CoreModel is a model whose weights are handed to an external runtime.
type CoreModel struct {
	id      modelid.ID
	variant Core
	store   *cache.Store
}

func (m *CoreModel) ID() modelid.ID { return m.id }

// WeightsPath is the cached weights file.
func (m *CoreModel) WeightsPath() string {
	return m.store.Path(m.id, m.variant.WeightsFilename())
}

// Preprocess only decodes; core runtimes prepare images themselves.
func (m *CoreModel) Preprocess(raw []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

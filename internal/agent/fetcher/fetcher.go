// Package fetcher makes a model's artifacts present in the local cache,
// choosing between the bulk object-store source and the per-file model API.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/cache"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/source"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/jsonutil"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// ModelAPI is the part of the model API client the fetcher needs.
type ModelAPI interface {
	GetModelData(ctx context.Context, endpoint constants.ModelEndpointType, id modelid.ID, apiKey, deviceID string) (map[string]json.RawMessage, error)
	GetJSON(ctx context.Context, rawURL string, v any) error
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Request names one model and everything needed to fetch it.
type Request struct {
	ID       modelid.ID
	Manifest []string
	APIKey   string
	DeviceID string
	Endpoint constants.ModelEndpointType
	// WeightsFilename is where the ORT endpoint's weights are stored.
	WeightsFilename string
}

// Fetcher is safe for concurrent use across distinct model identities.
// Callers serialise work per identity.
type Fetcher struct {
	store        *cache.Store
	resolver     *source.Resolver
	api          ModelAPI
	refreshAfter time.Duration
	now          func() time.Time
}

// New returns a Fetcher. refreshAfter bounds how long a single core-model
// weights download may take before the signed URLs are requested again.
func New(store *cache.Store, resolver *source.Resolver, api ModelAPI, refreshAfter time.Duration) *Fetcher {
	return &Fetcher{
		store:        store,
		resolver:     resolver,
		api:          api,
		refreshAfter: refreshAfter,
		now:          time.Now,
	}
}

// EnsureArtifacts returns once every manifest file is cached. Cached models
// cause no network traffic. Once the bulk source is chosen its failure is
// final; there is no fallback to the model API.
func (f *Fetcher) EnsureArtifacts(ctx context.Context, req Request) error {
	log := logrus.WithField("model_id", req.ID.String())
	if f.store.Exists(req.ID, req.Manifest) {
		log.Debug("Model artifacts already downloaded, loading model from cache")
		return nil
	}
	if err := f.store.Initialise(req.ID); err != nil {
		return err
	}

	if f.resolver.IsBulkSourceAvailable() {
		log.Info("Downloading model artifacts from object storage")
		return f.fetchBulk(ctx, req)
	}

	log.Info("Downloading model artifacts from model API")
	switch req.Endpoint {
	case constants.ModelEndpointCoreModel:
		return f.fetchCoreModel(ctx, req)
	case constants.ModelEndpointORT:
		return f.fetchORT(ctx, req)
	default:
		return fmt.Errorf("unknown model endpoint type %q", req.Endpoint)
	}
}

func (f *Fetcher) fetchBulk(ctx context.Context, req Request) error {
	keys := make([]string, 0, len(req.Manifest))
	for _, file := range req.Manifest {
		keys = append(keys, req.ID.String()+"/"+file)
	}
	err := f.resolver.Downloader().Download(ctx, f.resolver.Bucket(), keys, f.store.Dir(req.ID))
	if err != nil {
		return errdefs.Wrap(errdefs.KindArtifactDownload, err, "could not obtain model artefacts for %s from object storage", req.ID)
	}
	return nil
}

// ortDescription is the "ort" member of the ORT endpoint response.
type ortDescription struct {
	Model       *string         `json:"model"`
	Environment *string         `json:"environment"`
	Classes     []string        `json:"classes"`
	Colors      json.RawMessage `json:"colors"`
}

func (f *Fetcher) fetchORT(ctx context.Context, req Request) error {
	data, err := f.api.GetModelData(ctx, constants.ModelEndpointORT, req.ID, req.APIKey, req.DeviceID)
	if err != nil {
		return err
	}
	raw, ok := data["ort"]
	if !ok {
		return errdefs.New(errdefs.KindModelArtefact, "could not find `ort` key in model API description of %s", req.ID)
	}
	var desc ortDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return errdefs.Wrap(errdefs.KindModelArtefact, err, "decode `ort` description of %s", req.ID)
	}

	if desc.Classes != nil {
		if err := f.store.SaveTextLines(req.ID, constants.ClassNamesFile, desc.Classes); err != nil {
			return err
		}
	}
	if desc.Model == nil {
		return errdefs.New(errdefs.KindModelArtefact, "could not find `model` key in model API description of %s", req.ID)
	}
	if desc.Environment == nil {
		return errdefs.New(errdefs.KindModelArtefact, "could not find `environment` key in model API description of %s", req.ID)
	}

	env := jsonutil.NewObject()
	if err := f.api.GetJSON(ctx, *desc.Environment, env); err != nil {
		return err
	}
	if err := f.download(ctx, req.ID, *desc.Model, req.WeightsFilename); err != nil {
		return err
	}
	if len(desc.Colors) > 0 && string(desc.Colors) != "null" {
		if err := env.Set(constants.EnvColors, desc.Colors); err != nil {
			return err
		}
	}
	return f.store.SaveJSON(req.ID, constants.EnvironmentFile, env)
}

func (f *Fetcher) fetchCoreModel(ctx context.Context, req Request) error {
	weights, err := f.coreWeights(ctx, req)
	if err != nil {
		return err
	}
	// Iterate the first response's names; later URLs come from whichever
	// response is current.
	for _, name := range weights.Keys() {
		var rawURL string
		if err := weights.Decode(name, &rawURL); err != nil {
			return errdefs.Wrap(errdefs.KindModelArtefact, err, "weights entry %q of %s", name, req.ID)
		}
		file, err := urlBasename(rawURL)
		if err != nil {
			return errdefs.Wrap(errdefs.KindModelArtefact, err, "weights entry %q of %s", name, req.ID)
		}

		start := f.now()
		if err := f.download(ctx, req.ID, rawURL, file); err != nil {
			return err
		}
		if elapsed := f.now().Sub(start); elapsed > f.refreshAfter {
			logrus.WithFields(logrus.Fields{"model_id": req.ID.String(), "elapsed": elapsed}).
				Infof("Weights download took longer than %s, refreshing API request", f.refreshAfter)
			if weights, err = f.coreWeights(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fetcher) coreWeights(ctx context.Context, req Request) (*jsonutil.Object, error) {
	data, err := f.api.GetModelData(ctx, constants.ModelEndpointCoreModel, req.ID, req.APIKey, req.DeviceID)
	if err != nil {
		return nil, err
	}
	raw, ok := data["weights"]
	if !ok {
		return nil, errdefs.New(errdefs.KindModelArtefact, "`weights` key not available in model API response for %s", req.ID)
	}
	weights := jsonutil.NewObject()
	if err := json.Unmarshal(raw, weights); err != nil {
		return nil, errdefs.Wrap(errdefs.KindModelArtefact, err, "decode `weights` of %s", req.ID)
	}
	return weights, nil
}

func (f *Fetcher) download(ctx context.Context, id modelid.ID, rawURL, file string) error {
	body, err := f.api.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()
	n, err := f.store.SaveFrom(id, file, body)
	if err != nil {
		return fmt.Errorf("save %s: %w", file, err)
	}
	logrus.WithFields(logrus.Fields{"model_id": id.String(), "file": file, "bytes": n}).Debug("Saved model artifact")
	return nil
}

// urlBasename is the last path segment of rawURL, without the query.
func urlBasename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}

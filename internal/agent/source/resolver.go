// Package source decides where model artifacts come from: the managed
// object-storage bucket, when this deployment may use it, or the per-file
// model API otherwise.
package source

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/config"
)

// BulkDownloader fetches many keyed objects from one bucket into a
// directory in a single operation.
type BulkDownloader interface {
	Download(ctx context.Context, bucket string, keys []string, targetDir string) error
}

// Resolver is evaluated once at process start. It performs no I/O after
// construction.
type Resolver struct {
	credentialsConfigured bool
	deploymentEligible    bool
	downloader            BulkDownloader
	bucket                string
	cause                 error
}

// NewResolver builds the object-store client when credentials are present.
// A construction failure is logged and kept as the reason the bulk source is
// unavailable; it never fails process start.
func NewResolver(cfg config.ObjectStoreConfig) *Resolver {
	r := &Resolver{
		credentialsConfigured: cfg.CredentialsConfigured(),
		deploymentEligible:    cfg.Lambda,
		bucket:                cfg.Bucket,
	}
	if !r.credentialsConfigured {
		r.cause = errors.New("object store credentials not configured")
		return r
	}

	d, err := NewMinioDownloader(cfg)
	if err != nil {
		logrus.WithError(err).WithField("endpoint", cfg.Endpoint).
			Warn("Object store client unavailable, model artifacts will be fetched from the model API")
		r.cause = err
		return r
	}
	r.downloader = d
	if !r.deploymentEligible {
		r.cause = errors.New("deployment is not eligible for object store access")
	}
	return r
}

// NewResolverWith assembles a Resolver from already-evaluated parts.
func NewResolverWith(credentialsConfigured, deploymentEligible bool, d BulkDownloader, bucket string) *Resolver {
	return &Resolver{
		credentialsConfigured: credentialsConfigured,
		deploymentEligible:    deploymentEligible,
		downloader:            d,
		bucket:                bucket,
	}
}

// IsBulkSourceAvailable is true only when credentials are configured, the
// deployment flag is set and the client was constructed.
func (r *Resolver) IsBulkSourceAvailable() bool {
	return r != nil && r.credentialsConfigured && r.deploymentEligible && r.downloader != nil
}

func (r *Resolver) Downloader() BulkDownloader {
	return r.downloader
}

func (r *Resolver) Bucket() string {
	return r.bucket
}

// UnavailableReason explains why the bulk source is off, or nil.
func (r *Resolver) UnavailableReason() error {
	if r.IsBulkSourceAvailable() {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	return errors.New("bulk source not configured")
}

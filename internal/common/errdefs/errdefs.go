// Package errdefs defines the error kinds surfaced while acquiring and
// loading model artifacts.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Callers switch on the kind (through errors.Is
// with the sentinels below) to decide whether a retry is worthwhile.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindArtifactDownload    Kind = "artifact_download"
	KindModelArtefact       Kind = "model_artefact"
	KindCacheCorruption     Kind = "cache_corruption"
	KindAPIConnection       Kind = "api_connection"
	KindAPIRequest          Kind = "api_request"
	KindWorkspaceLoad       Kind = "workspace_load"
	KindDatasetLoad         Kind = "dataset_load"
	KindModelDataFetching   Kind = "model_data_fetching"
	KindMissingDefaultModel Kind = "missing_default_model"
	KindMalformedResponse   Kind = "malformed_response"
	KindProviderUnavailable Kind = "provider_unavailable"
)

// parents records refinements: an artifact download failure is also a
// model artefact failure.
var parents = map[Kind]Kind{
	KindArtifactDownload: KindModelArtefact,
}

// Error is the single error type of this module.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, following kind refinements.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for k := e.Kind; k != ""; k = parents[k] {
		if k == t.Kind {
			return true
		}
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrArtifactDownload    = &Error{Kind: KindArtifactDownload}
	ErrModelArtefact       = &Error{Kind: KindModelArtefact}
	ErrCacheCorruption     = &Error{Kind: KindCacheCorruption}
	ErrAPIConnection       = &Error{Kind: KindAPIConnection}
	ErrAPIRequest          = &Error{Kind: KindAPIRequest}
	ErrWorkspaceLoad       = &Error{Kind: KindWorkspaceLoad}
	ErrDatasetLoad         = &Error{Kind: KindDatasetLoad}
	ErrModelDataFetching   = &Error{Kind: KindModelDataFetching}
	ErrMissingDefaultModel = &Error{Kind: KindMissingDefaultModel}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
)

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is a transport-level failure. HTTP status
// failures point at credentials or identity and are not retryable.
func Retryable(err error) bool {
	return KindOf(err) == KindAPIConnection
}

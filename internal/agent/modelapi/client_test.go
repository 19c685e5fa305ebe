package modelapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

func TestGetModelDataBuildsQuery(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = io.WriteString(w, `{"ort":{"model":"m","environment":"e"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	data, err := c.GetModelData(context.Background(), constants.ModelEndpointORT, modelid.MustParse("coco/3"), "key", "dev-1")
	require.NoError(t, err)
	assert.Contains(t, data, "ort")
	assert.Equal(t, "/ort/coco/3", gotPath)
	assert.Equal(t, map[string]string{
		"api_key": "key",
		"device":  "dev-1",
		"nocache": "true",
		"dynamic": "true",
	}, gotQuery)
}

func TestGetModelDataHTTPFailureCarriesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetModelData(context.Background(), constants.ModelEndpointORT, modelid.MustParse("coco/3"), "bad", "dev")
	require.ErrorIs(t, err, errdefs.ErrModelDataFetching)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.False(t, errdefs.Retryable(err))
}

func TestConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url).GetModelData(context.Background(), constants.ModelEndpointORT, modelid.MustParse("coco/3"), "k", "d")
	require.ErrorIs(t, err, errdefs.ErrAPIConnection)
	assert.True(t, errdefs.Retryable(err))
}

func TestGetJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()

	var v map[string]any
	err := New(srv.URL).GetJSON(context.Background(), srv.URL+"/env", &v)
	require.ErrorIs(t, err, errdefs.ErrMalformedResponse)
}

// truncatingServer promises a long body, sends a prefix of it and drops the
// connection.
func truncatingServer(t *testing.T, prefix string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, prefix)
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetJSONTruncatedBodyIsConnectionError(t *testing.T) {
	srv := truncatingServer(t, `{"a": 1`)

	var v map[string]any
	err := New(srv.URL).GetJSON(context.Background(), srv.URL+"/env", &v)
	require.ErrorIs(t, err, errdefs.ErrAPIConnection)
	assert.False(t, errors.Is(err, errdefs.ErrMalformedResponse))
	assert.True(t, errdefs.Retryable(err))
}

func TestDownloadTruncatedBodyIsConnectionError(t *testing.T) {
	srv := truncatingServer(t, "weights")

	body, err := New(srv.URL).Download(context.Background(), srv.URL+"/w.pt")
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	require.ErrorIs(t, err, errdefs.ErrAPIConnection)
	assert.Equal(t, errdefs.KindAPIConnection, errdefs.KindOf(err))
	assert.True(t, errdefs.Retryable(err))
}

func TestDownloadCompleteBodyReadsCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "weights")
	}))
	defer srv.Close()

	body, err := New(srv.URL).Download(context.Background(), srv.URL+"/w.pt")
	require.NoError(t, err)
	defer body.Close()
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(b))
}

func TestDownloadStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Download(context.Background(), srv.URL+"/weights")
	require.ErrorIs(t, err, errdefs.ErrAPIRequest)

	var e *errdefs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errdefs.KindAPIRequest, e.Kind)
}

func TestWrapURLThroughLicenseServer(t *testing.T) {
	c := New("https://api.example.com")
	assert.Equal(t, "https://api.example.com/x?a=1", c.WrapURL("https://api.example.com/x?a=1"))

	c = New("https://api.example.com", WithLicenseServer("license.local:8080"))
	assert.Equal(t,
		"http://license.local:8080/proxy?url=https%3A%2F%2Fapi.example.com%2Fx%3Fa%3D1",
		c.WrapURL("https://api.example.com/x?a=1"))
}

func TestWorkspaceLookups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, `{"workspace":"acme"}`)
		case "/acme/coco/":
			_, _ = io.WriteString(w, `{"project":{}}`)
		case "/acme/coco/3/":
			_, _ = io.WriteString(w, `{"version":{}}`)
		case "/acme/seg/4/":
			_, _ = io.WriteString(w, `{"version":{"modelType":"yolov8n-seg"}}`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	ws, err := c.GetWorkspace(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "acme", ws)

	taskType, err := c.GetDatasetType(ctx, "k", ws, "coco")
	require.NoError(t, err)
	assert.Equal(t, DefaultTaskType, taskType)

	mt, err := c.GetModelType(ctx, "k", ws, "coco", "3", taskType)
	require.NoError(t, err)
	assert.Equal(t, "yolov5v2s", mt)

	mt, err = c.GetModelType(ctx, "k", ws, "seg", "4", "instance-segmentation")
	require.NoError(t, err)
	assert.Equal(t, "yolov8n-seg", mt)

	_, err = c.GetModelType(ctx, "k", ws, "coco", "3", "keypoint-detection")
	require.ErrorIs(t, err, errdefs.ErrMissingDefaultModel)

	_, err = c.GetDatasetType(ctx, "k", ws, "missing")
	require.ErrorIs(t, err, errdefs.ErrDatasetLoad)
}

func TestGetWorkspaceEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"workspace":null}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetWorkspace(context.Background(), "k")
	require.ErrorIs(t, err, errdefs.ErrWorkspaceLoad)
}

package modelapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
)

// DefaultTaskType is assumed when a project does not declare its type.
const DefaultTaskType = "object-detection"

// ModelTypeDefaults maps a project task type to the architecture assumed
// when a version does not declare one.
var ModelTypeDefaults = map[string]string{
	"object-detection":      "yolov5v2s",
	"instance-segmentation": "yolact",
	"classification":        "vit",
}

// GetWorkspace returns the workspace owning apiKey.
func (c *Client) GetWorkspace(ctx context.Context, apiKey string) (string, error) {
	u := c.baseURL + "/?api_key=" + url.QueryEscape(apiKey)
	var info struct {
		Workspace *string `json:"workspace"`
	}
	err := c.getJSON(ctx, u, &info, requestError("could not load workspace, check your API key", errdefs.KindWorkspaceLoad))
	if err != nil {
		return "", err
	}
	if info.Workspace == nil || strings.TrimSpace(*info.Workspace) == "" {
		return "", errdefs.New(errdefs.KindWorkspaceLoad, "empty workspace encountered, check your API key")
	}
	return *info.Workspace, nil
}

// GetDatasetType returns the project task type of dataset, defaulting to
// object-detection when the project does not declare one.
func (c *Client) GetDatasetType(ctx context.Context, apiKey, workspace, dataset string) (string, error) {
	u := fmt.Sprintf("%s/%s/%s/?api_key=%s&nocache=true", c.baseURL, url.PathEscape(workspace), url.PathEscape(dataset), url.QueryEscape(apiKey))
	var info struct {
		Project struct {
			Type *string `json:"type"`
		} `json:"project"`
	}
	err := c.getJSON(ctx, u, &info, requestError("could not load dataset info, check your API key and workspace", errdefs.KindDatasetLoad))
	if err != nil {
		return "", err
	}
	if info.Project.Type == nil {
		logrus.WithFields(logrus.Fields{"workspace": workspace, "dataset": dataset}).
			Warn("Project task type not defined, defaulting to object-detection")
		return DefaultTaskType, nil
	}
	return *info.Project.Type, nil
}

// GetModelType returns the architecture of a dataset version, falling back to
// the default for taskType.
func (c *Client) GetModelType(ctx context.Context, apiKey, workspace, dataset, version, taskType string) (string, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/?api_key=%s&nocache=true", c.baseURL, url.PathEscape(workspace), url.PathEscape(dataset), url.PathEscape(version), url.QueryEscape(apiKey))
	var info struct {
		Version *struct {
			ModelType *string `json:"modelType"`
		} `json:"version"`
	}
	err := c.getJSON(ctx, u, &info, requestError("could not load version info, check your API key and workspace", errdefs.KindDatasetLoad))
	if err != nil {
		return "", err
	}
	if info.Version == nil {
		return "", errdefs.New(errdefs.KindMalformedResponse, "version info missing `version` key")
	}
	if info.Version.ModelType != nil {
		return *info.Version.ModelType, nil
	}
	def, ok := ModelTypeDefaults[taskType]
	if !ok {
		return "", errdefs.New(errdefs.KindMissingDefaultModel, "could not set default model for %s", taskType)
	}
	logrus.WithField("task_type", taskType).Warn("Model type not defined, using default for task")
	return def, nil
}

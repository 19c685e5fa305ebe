package agent

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/model"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// Models hands out loaded models. *model.Registry implements it.
type Models interface {
	Get(ctx context.Context, id modelid.ID, opts model.LoadOptions) (*model.OnnxModel, error)
}

// ModelDetails is the agent's view of one assigned model.
type ModelDetails struct {
	ID           string
	Status       constants.ModelStatus
	ErrorKind    errdefs.Kind
	ErrorMessage string
	Retryable    bool
	UpdatedAt    time.Time
}

type Agent struct {
	DeviceID string

	models Models
	now    func() time.Time

	mu       sync.Mutex
	assigned map[string]*ModelDetails
}

func New(deviceID string, models Models) *Agent {
	return &Agent{
		DeviceID: deviceID,
		models:   models,
		now:      time.Now,
		assigned: make(map[string]*ModelDetails),
	}
}

// AssignModel records id as served by this agent without loading it.
func (a *Agent) AssignModel(id modelid.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := id.String()
	if _, ok := a.assigned[key]; ok {
		return errors.New("model already assigned")
	}
	a.assigned[key] = &ModelDetails{ID: key, Status: constants.ModelStatusUnknown, UpdatedAt: a.now()}
	return nil
}

// Warm loads every id in parallel. Failures are recorded per model and
// returned joined; one failing model does not stop the others.
func (a *Agent) Warm(ctx context.Context, ids []modelid.ID, opts model.LoadOptions) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := a.Model(ctx, id, opts); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Model returns the loaded model for id, assigning it if needed, and keeps
// its status current.
func (a *Agent) Model(ctx context.Context, id modelid.ID, opts model.LoadOptions) (*model.OnnxModel, error) {
	log := logrus.WithField("model_id", id.String())
	a.setStatus(id, constants.ModelStatusLoading, nil)

	m, err := a.models.Get(ctx, id, opts)
	if err != nil {
		log.WithError(err).Error("Failed to load model")
		a.setStatus(id, constants.ModelStatusFailed, err)
		return nil, err
	}
	a.setStatus(id, constants.ModelStatusReady, nil)
	return m, nil
}

// AssignedModels returns a snapshot of every assigned model sorted by id.
func (a *Agent) AssignedModels() []ModelDetails {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ModelDetails, 0, len(a.assigned))
	for _, d := range a.assigned {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(x, y ModelDetails) int { return strings.Compare(x.ID, y.ID) })
	return out
}

func (a *Agent) setStatus(id modelid.ID, status constants.ModelStatus, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := id.String()
	d, ok := a.assigned[key]
	if !ok {
		d = &ModelDetails{ID: key}
		a.assigned[key] = d
	}
	// A model that is already ready stays ready while a later call waits on it.
	if status == constants.ModelStatusLoading && d.Status == constants.ModelStatusReady {
		return
	}
	d.Status = status
	d.UpdatedAt = a.now()
	d.ErrorKind, d.ErrorMessage, d.Retryable = "", "", false
	if err != nil {
		d.ErrorKind = errdefs.KindOf(err)
		d.ErrorMessage = err.Error()
		d.Retryable = errdefs.Retryable(err)
	}
}

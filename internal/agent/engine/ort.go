package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
)

var (
	initOnce sync.Once
	initErr  error
)

// ORTOpener opens ONNX Runtime sessions. The runtime environment is shared
// by every session of the process and initialised on first use.
type ORTOpener struct {
	LibraryPath       string
	Providers         []string
	RequiredProviders []string
	TensorRTCachePath string
}

func (o *ORTOpener) initEnvironment() error {
	initOnce.Do(func() {
		if o.LibraryPath != "" {
			ort.SetSharedLibraryPath(o.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return initErr
}

// Open creates a session for weightsPath with the configured providers in
// priority order. A required provider that cannot be attached fails the open.
func (o *ORTOpener) Open(modelID, weightsPath string) (Session, error) {
	log := logrus.WithField("model_id", modelID)
	plan, err := planProviders(o.Providers, o.RequiredProviders)
	if err != nil {
		return nil, err
	}
	if err := o.initEnvironment(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(weightsPath)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindModelArtefact, err, "read model inputs of %s", modelID)
	}
	if len(inputs) == 0 {
		return nil, errdefs.New(errdefs.KindModelArtefact, "model %s declares no inputs", modelID)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	var attached []constants.ExecutionProvider
	for _, p := range plan {
		if err := o.appendProvider(opts, p, modelID); err != nil {
			log.WithError(err).WithField("provider", p).Warn("Execution provider unavailable, trying next")
			continue
		}
		attached = append(attached, p)
	}
	for _, req := range o.RequiredProviders {
		p := constants.ExecutionProvider(req)
		if p == constants.ProviderCPU {
			continue
		}
		if !slices.Contains(attached, p) {
			return nil, errdefs.New(errdefs.KindProviderUnavailable,
				"required execution provider %s is not available, check that you are using the correct image on a supported device", req)
		}
	}

	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}
	input := inputs[0]
	session, err := ort.NewDynamicAdvancedSession(weightsPath, []string{input.Name}, outNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelID, err)
	}
	log.WithField("providers", attached).Info("Inference session created")

	return &ortSession{
		session:    session,
		inputName:  input.Name,
		inputShape: slices.Clone([]int64(input.Dimensions)),
		outNames:   outNames,
	}, nil
}

func (o *ORTOpener) appendProvider(opts *ort.SessionOptions, p constants.ExecutionProvider, modelID string) error {
	switch p {
	case constants.ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return opts.AppendExecutionProviderCUDA(cuda)
	case constants.ProviderTensorRT:
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trt.Destroy()
		err = trt.Update(map[string]string{
			"trt_engine_cache_enable": "1",
			"trt_engine_cache_path":   filepath.Join(o.TensorRTCachePath, modelID),
			"trt_fp16_enable":         "1",
		})
		if err != nil {
			return err
		}
		return opts.AppendExecutionProviderTensorRT(trt)
	case constants.ProviderOpenVINO:
		return opts.AppendExecutionProviderOpenVINO(map[string]string{})
	case constants.ProviderCoreML:
		return opts.AppendExecutionProviderCoreML(0)
	case constants.ProviderCPU:
		return nil
	default:
		return fmt.Errorf("unknown execution provider %q", p)
	}
}

// planProviders returns the known providers of list in order. A required
// provider missing from list can never attach.
func planProviders(list, required []string) ([]constants.ExecutionProvider, error) {
	known := []constants.ExecutionProvider{
		constants.ProviderTensorRT,
		constants.ProviderCUDA,
		constants.ProviderOpenVINO,
		constants.ProviderCoreML,
		constants.ProviderCPU,
	}
	var plan []constants.ExecutionProvider
	for _, name := range list {
		p := constants.ExecutionProvider(name)
		if !slices.Contains(known, p) {
			logrus.WithField("provider", name).Warn("Ignoring unknown execution provider")
			continue
		}
		if !slices.Contains(plan, p) {
			plan = append(plan, p)
		}
	}
	for _, name := range required {
		p := constants.ExecutionProvider(name)
		if p != constants.ProviderCPU && !slices.Contains(plan, p) {
			return nil, errdefs.New(errdefs.KindProviderUnavailable,
				"required execution provider %s is not in the configured provider list", name)
		}
	}
	return plan, nil
}

type ortSession struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	inputShape []int64
	outNames   []string
}

func (s *ortSession) InputName() string  { return s.inputName }
func (s *ortSession) InputShape() []int64 { return slices.Clone(s.inputShape) }

func (s *ortSession) Run(ctx context.Context, input *preprocess.Tensor) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	outs := make([]ort.Value, len(s.outNames))
	if err := s.session.Run([]ort.Value{in}, outs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	result := make([]Output, len(outs))
	for i, v := range outs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", s.outNames[i])
		}
		result[i] = Output{
			Name:  s.outNames[i],
			Shape: slices.Clone([]int64(t.GetShape())),
			Data:  slices.Clone(t.GetData()),
		}
	}
	return result, nil
}

func (s *ortSession) Close() error {
	return s.session.Destroy()
}

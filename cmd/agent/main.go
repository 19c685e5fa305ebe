package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/kennethnrk/edgernetes-inference/internal/agent"
	grpcagent "github.com/kennethnrk/edgernetes-inference/internal/agent/api/grpc"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/config"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/model"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	models := flag.StringArray("model", nil, "Model to load at start, as dataset/version (repeatable)")
	addr := flag.String("addr", "", "Health gRPC listen address (overrides grpc_addr)")
	apiKey := flag.String("api-key", "", "API key (overrides API_KEY)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	if *addr != "" {
		cfg.GRPCAddr = *addr
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}
	if err := cfg.ConfigureLogging(); err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}

	ids := make([]modelid.ID, 0, len(*models))
	for _, raw := range *models {
		id, err := modelid.Parse(raw)
		if err != nil {
			logrus.WithError(err).Fatalf("Invalid model %q", raw)
		}
		ids = append(ids, id)
	}

	loader, err := model.NewLoaderFromConfig(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to prepare model loader")
	}
	registry, err := model.NewRegistry(loader, cfg.ModelCacheSize)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create model registry")
	}
	defer registry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(cfg.DeviceID, registry)
	for _, id := range ids {
		if err := a.AssignModel(id); err != nil {
			logrus.WithField("model_id", id.String()).WithError(err).Warn("Skipping model")
		}
	}
	logrus.WithField("device_id", cfg.DeviceID).Infof("Agent started with %d model(s)", len(ids))

	go func() {
		if err := a.Warm(ctx, ids, model.LoadOptions{}); err != nil {
			logrus.WithError(err).Error("Some models failed to load")
			return
		}
		logrus.Info("All models loaded")
	}()

	if err := grpcagent.StartGRPCServer(ctx, a, cfg.GRPCAddr, 5*time.Second); err != nil {
		logrus.WithError(err).Fatal("Agent gRPC server failed")
	}
}

// Command prefetch downloads model artifacts into the cache without loading
// them, then prints what is cached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/config"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/model"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	models := flag.StringArray("model", nil, "Model to fetch, as dataset/version (repeatable)")
	variantName := flag.String("variant", "onnx", "Artifact variant: onnx or core")
	apiKey := flag.String("api-key", "", "API key (overrides API_KEY)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.ConfigureLogging(); err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	variant, ok := model.VariantByName(*variantName)
	if !ok {
		logrus.Fatalf("Unknown variant %q", *variantName)
	}
	if len(*models) == 0 {
		logrus.Fatal("At least one --model is required")
	}

	loader, err := model.NewLoaderFromConfig(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to prepare model loader")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "MODEL\tFILE\tSIZE\tBLAKE3")

	failed := false
	for _, raw := range *models {
		id, err := modelid.Parse(raw)
		if err != nil {
			logrus.WithError(err).Errorf("Invalid model %q", raw)
			failed = true
			continue
		}
		log := logrus.WithField("model_id", id.String())
		if err := loader.Fetch(ctx, id, variant, model.LoadOptions{APIKey: *apiKey}); err != nil {
			log.WithError(err).Error("Failed to fetch model artifacts")
			failed = true
			continue
		}
		entries, err := loader.Store().List(id)
		if err != nil {
			log.WithError(err).Error("Failed to list cached artifacts")
			failed = true
			continue
		}
		for _, e := range entries {
			sum, err := loader.Store().Digest(id, e.Name)
			if err != nil {
				log.WithError(err).WithField("file", e.Name).Warn("Failed to hash artifact")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, e.Name, e.Size, sum)
		}
	}
	if failed {
		w.Flush()
		os.Exit(1)
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/sentinel/inference"
	"github.com/nvr-ai/sentinel/inference/providers"
	"github.com/nvr-ai/sentinel/logging"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report model artifact availability and hardware acceleration",
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	client, store, err := newInferenceClient(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	size, _ := inference.ParseModelSize(cfg.Segmentation.ModelSize)
	for _, kind := range []inference.ModelKind{inference.Encoder, inference.Decoder} {
		name := inference.ArtifactName(size, kind)
		fmt.Fprintf(out, "%-8s %-5t %s\n", kind, store.Exists(ctx, name), store.Location(name))
	}

	fmt.Fprintf(out, "candidates %v\n", providers.AcceleratedBackends())
	fmt.Fprintf(out, "accelerated %t\n", client.ProbeAcceleration())
	fmt.Fprintf(out, "available %t\n", client.Available(ctx))
	return nil
}

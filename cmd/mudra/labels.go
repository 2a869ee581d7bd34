package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/log"
)

func newLabelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the model's gesture labels and their responses",
		Args:  cobra.NoArgs,
		RunE:  runLabels,
	}
	cmd.Flags().String("model", "", "Teachable Machine model directory")
	return cmd
}

func runLabels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("model") {
		cfg.ModelDir, _ = cmd.Flags().GetString("model")
	}

	meta, err := classifier.ReadMetadata(cfg.ModelDir)
	if err != nil {
		return err
	}

	lib := map[string]string{}
	if st, err := openStore(cfg); err != nil {
		log.Warn("responses unavailable", "error", err)
	} else {
		if lib, err = st.Responses().Library(); err != nil {
			log.Warn("responses unavailable", "error", err)
		}
		st.Close()
	}

	out := cmd.OutOrStdout()
	if meta.ModelName != "" {
		fmt.Fprintf(out, "model %s (%d labels)\n", meta.ModelName, len(meta.Labels))
	}
	for _, label := range meta.Labels {
		if resource, ok := lib[label]; ok {
			fmt.Fprintf(out, "%s\t%s\n", label, resource)
		} else {
			fmt.Fprintf(out, "%s\t-\n", label)
		}
	}
	return nil
}

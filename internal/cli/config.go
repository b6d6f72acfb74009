package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"screenroom/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGenerateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, configPath, err := config.LoadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("# source: %s\n", configPath)

			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigGenerateCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefaultConfig(outputPath); err != nil {
				return fmt.Errorf("generate config: %w", err)
			}
			fmt.Printf("default configuration written to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "config.yaml", "destination file")

	return cmd
}

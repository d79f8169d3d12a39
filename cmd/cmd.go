package cmd

import (
	"github.com/heroku/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/imgpatch/imgpatch/internal/commands"
	"github.com/imgpatch/imgpatch/internal/config"
	"github.com/imgpatch/imgpatch/pkg/client"
	"github.com/imgpatch/imgpatch/pkg/logging"
)

// Version is overridden at build time through ldflags.
var Version = "0.0.0"

// ConfigurableLogger defines behavior required by the imgpatch command
type ConfigurableLogger interface {
	logging.Logger
	WantTime(f bool)
	WantQuiet(f bool)
	WantVerbose(f bool)
}

// NewImgpatchCommand generates the imgpatch command
func NewImgpatchCommand(logger ConfigurableLogger) (*cobra.Command, error) {
	cobra.EnableCommandSorting = false
	cfg, err := initConfig(logger)
	if err != nil {
		return nil, err
	}

	patchClient, err := client.NewClient(client.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	rootCmd := &cobra.Command{
		Use:   "imgpatch",
		Short: "CLI for patching container images in place",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if fs := cmd.Flags(); fs != nil {
				if flag, err := fs.GetBool("no-color"); err == nil {
					color.Disable(flag)
				}
				if flag, err := fs.GetBool("quiet"); err == nil {
					logger.WantQuiet(flag)
				}
				if flag, err := fs.GetBool("verbose"); err == nil {
					logger.WantVerbose(flag)
				}
				if flag, err := fs.GetBool("timestamps"); err == nil {
					logger.WantTime(flag)
				}
			}
		},
	}

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	rootCmd.PersistentFlags().Bool("timestamps", false, "Enable timestamps in output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Show less output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show more output")
	rootCmd.Flags().Bool("version", false, "Show current 'imgpatch' version")

	commands.AddHelpFlag(rootCmd, "imgpatch")

	rootCmd.AddCommand(commands.Patch(logger, cfg, patchClient))
	rootCmd.AddCommand(commands.Version(logger, Version))

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{.Version}}{{"\n"}}`)
	rootCmd.SetOut(logging.GetWriterForLevel(logger, logging.InfoLevel))
	rootCmd.SetErr(logging.GetWriterForLevel(logger, logging.ErrorLevel))

	return rootCmd, nil
}

func initConfig(logger logging.Logger) (config.Config, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return config.Config{}, errors.Wrap(err, "getting config path")
	}

	cfg, err := config.Read(logger, path)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "reading imgpatch config")
	}
	return cfg, nil
}

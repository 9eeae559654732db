package cmd

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "pio-hooks",
	Short: "Build hooks for the smart display firmware",
	Long: `This command bundles the extra build steps of the firmware: excluding LVGL's
assembly sources, patching esp32_smartdisplay for LVGL 9.2 and running Starlark
extra scripts against a target's build environment.

Flags can be fed back into PlatformIO with build_flags = !pio-hooks flags.`,
	SilenceUsage: true,
}

// stderr is where log output goes; stdout only carries command results
var stderr io.Writer = os.Stderr

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultFile, "config file")
	flags.String("project-dir", "", "PlatformIO project directory")
	flags.String("libdeps-dir", "", "library dependency directory (default <project>/.pio/libdeps)")
	flags.StringP("env", "e", "", "build target (PIOENV)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "output JSONND instead of pretty console messages")
}

// setup loads the config, applies the flag overrides and returns a context carrying the logger
func setup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	flags := cmd.Flags()
	cfgFile, err := flags.GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, loader := config.Loader(cfgFile)
	if err := loader.Load(); err != nil {
		return nil, nil, err
	}

	for name, target := range map[string]*string{
		"project-dir": &cfg.ProjectDir,
		"libdeps-dir": &cfg.LibDepsDir,
		"env":         &cfg.Env,
		"log-level":   &cfg.Log.Level,
	} {
		if flags.Changed(name) {
			*target, err = flags.GetString(name)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if flags.Changed("json") {
		cfg.Log.JSON, err = flags.GetBool("json")
		if err != nil {
			return nil, nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg.ResolveProjectDir()

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(stderr)
	} else {
		logger = zerolog.New(NewConsoleWriter(stderr))
	}
	logger = logger.Level(cfg.LogLevel())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return buildenv.WithLogger(ctx, &logger), cfg, nil
}

// Execute runs the root command
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

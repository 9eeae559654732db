package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/config"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/hooks"
)

// applyHooks runs the hooks named in args, or the configured ones if args is empty, on a fresh environment
func applyHooks(ctx context.Context, cfg *config.Config, args []string) (*buildenv.Env, error) {
	names := args
	if len(names) == 0 {
		names = cfg.Hooks
	}

	env, err := cfg.BuildEnv()
	if err != nil {
		return nil, err
	}

	return hooks.Default.Run(ctx, env, names...)
}

func settingCmd(use, short, setting string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [hooks...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			env, err := applyHooks(ctx, cfg, args)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(env.Get(setting), " "))
			return nil
		},
	}
}

var flagsCmd = settingCmd("flags", "Prints the build flags produced by the given hooks", buildenv.BuildFlags)

var srcFilterCmd = settingCmd("src-filter", "Prints the source filter produced by the given hooks", buildenv.SrcFilter)

var sourcesCmd = &cobra.Command{
	Use:   "sources <dir> [hooks...]",
	Short: "Lists the files in dir that would be compiled after applying the given hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
			return eris.New("Expected a source directory!")
		}

		ctx, cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		env, err := applyHooks(ctx, cfg, args[1:])
		if err != nil {
			return err
		}

		files, err := buildenv.ResolveSources(ctx, args[0], env.Get(buildenv.SrcFilter))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, file := range files {
			if env.ProcessNode(buildenv.FileNode(file)) != nil {
				fmt.Fprintln(out, file)
			}
		}
		return nil
	},
}

var listHooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Lists the available hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range hooks.Default.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flagsCmd)
	rootCmd.AddCommand(srcFilterCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(listHooksCmd)
}

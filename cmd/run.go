package cmd

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildsys"
)

type scriptResult struct {
	Target      string              `yaml:"target"`
	Settings    map[string][]string `yaml:"settings"`
	Middlewares int                 `yaml:"middlewares"`
}

var runCmd = &cobra.Command{
	Use:   "run <script.star>",
	Short: "Executes a Starlark extra script and prints the resulting settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return eris.New("Expected 1 argument!")
		}

		ctx, cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		env, err := cfg.BuildEnv()
		if err != nil {
			return err
		}

		env, err = buildsys.RunScript(ctx, args[0], env)
		if err != nil {
			return err
		}

		result := scriptResult{
			Target:      env.Target,
			Settings:    make(map[string][]string),
			Middlewares: env.Middlewares(),
		}
		for _, name := range env.Settings() {
			result.Settings[name] = env.Get(name)
		}

		encoder := yaml.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent(2)
		if err := encoder.Encode(result); err != nil {
			return eris.Wrap(err, "failed to encode result")
		}
		return encoder.Close()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

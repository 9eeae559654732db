package cmd

import (
	"encoding/json"
	"io/ioutil"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

var mergeCompileCommandsCmd = &cobra.Command{
	Use:   "merge-compile-commands <output file> <input files...>",
	Short: "Merges compile_commands.json files and drops the entries the hooks' middlewares exclude",
	Long: `PlatformIO's compiledb target lists every source of a library, including the assembly
files the hooks keep out of the build. This merges the given databases and removes
those entries so that clangd doesn't try to index them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 {
			return eris.Errorf("Expected at least 2 arguments but got %d!", len(args))
		}

		hookNames, err := cmd.Flags().GetStringSlice("hooks")
		if err != nil {
			return err
		}

		ctx, cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		env, err := applyHooks(ctx, cfg, hookNames)
		if err != nil {
			return err
		}

		output := make([]map[string]interface{}, 0)
		dropped := 0
		for _, fpath := range args[1:] {
			data, err := ioutil.ReadFile(fpath)
			if err != nil {
				return eris.Wrapf(err, "failed to read %s", fpath)
			}

			var chunk []map[string]interface{}
			err = json.Unmarshal(data, &chunk)
			if err != nil {
				return eris.Wrapf(err, "failed to decode %s", fpath)
			}

			for _, entry := range chunk {
				file, _ := entry["file"].(string)
				if file != "" && env.ProcessNode(buildenv.FileNode(file)) == nil {
					dropped++
					continue
				}
				output = append(output, entry)
			}
		}

		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return eris.Wrap(err, "failed to encode output")
		}

		err = ioutil.WriteFile(args[0], data, 0660)
		if err != nil {
			return eris.Wrapf(err, "failed to write to %s", args[0])
		}

		buildenv.Log(ctx).Info().
			Int("entries", len(output)).
			Int("dropped", dropped).
			Str("path", args[0]).
			Msgf("Wrote %s", args[0])
		return nil
	},
}

func init() {
	mergeCompileCommandsCmd.Flags().StringSlice("hooks", nil, "hooks to apply before filtering (default from config)")
	rootCmd.AddCommand(mergeCompileCommandsCmd)
}

package cmd

import (
	"io/ioutil"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/patcher"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Patches esp32_smartdisplay's drivers for LVGL 9.2",
	Long: `Rewrites the display->sw_rotate usages in the target's copy of esp32_smartdisplay
to lv_display_set_rotation / lv_display_get_rotation. Running it again is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := setup(cmd)
		if err != nil {
			return err
		}

		strict, err := cmd.Flags().GetBool("strict")
		if err != nil {
			return err
		}

		reportPath, err := cmd.Flags().GetString("report")
		if err != nil {
			return err
		}

		env, err := cfg.BuildEnv()
		if err != nil {
			return err
		}

		subs := patcher.RotationSubstitutions()
		if strict {
			for idx := range subs {
				subs[idx].Required = true
			}
		}

		report, err := patcher.PatchDir(ctx, patcher.SourceDir(env), patcher.DriverFiles, subs)
		if report != nil && reportPath != "" {
			data, yErr := yaml.Marshal(report)
			if yErr != nil {
				return eris.Wrap(yErr, "failed to encode report")
			}

			yErr = ioutil.WriteFile(reportPath, data, 0o660)
			if yErr != nil {
				return eris.Wrapf(yErr, "failed to write to %s", reportPath)
			}
		}
		if err != nil {
			return err
		}

		if strict {
			if report.SourceMissing {
				return eris.Errorf("%s does not exist", report.SourceDir)
			}

			if missing := report.MissingRequired(); len(missing) > 0 {
				return eris.Errorf("substitutions %v didn't match anything, the library might have changed upstream", missing)
			}
		}

		return nil
	},
}

func init() {
	patchCmd.Flags().Bool("strict", false, "fail if the library is missing or a substitution matches nothing")
	patchCmd.Flags().String("report", "", "write a YAML report of the matched substitutions to this file")
	rootCmd.AddCommand(patchCmd)
}

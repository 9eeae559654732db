// Package patcher adapts the esp32_smartdisplay driver sources to LVGL 9.2's display rotation API.
//
// The library still pokes at display->sw_rotate, which LVGL 9.2 removed. The rewrite is textual; every run
// reports which substitutions matched so that an upstream change which makes them obsolete is visible.
package patcher

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

// LibraryName is the directory name of the patched library below the target's libdeps folder
const LibraryName = "esp32_smartdisplay"

// DriverFiles lists the files which reference sw_rotate: the shared driver and one file per panel
var DriverFiles = []string{
	"esp32_smartdisplay.c",
	"lvgl_panel_ili9341_spi.c",
	"lvgl_panel_st7789_spi.c",
	"lvgl_panel_st7796_spi.c",
	"lvgl_panel_st7701_par.c",
	"lvgl_panel_st7789_i80.c",
	"lvgl_panel_st7262_par.c",
	"lvgl_panel_gc9a01_spi.c",
}

// Substitution is a single regex rewrite. Replacement is inserted literally.
type Substitution struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
	// Required substitutions are expected to match at least one file per run
	Required bool
}

// RotationSubstitutions returns the rewrites from sw_rotate to lv_display_{set,get}_rotation
func RotationSubstitutions() []Substitution {
	return []Substitution{
		{
			Name:        "set-rotation-0",
			Pattern:     regexp.MustCompile(`display->sw_rotate\s*=\s*0;`),
			Replacement: "lv_display_set_rotation(display, LV_DISPLAY_ROTATION_0);",
		},
		{
			Name:        "set-rotation-90",
			Pattern:     regexp.MustCompile(`display->sw_rotate\s*=\s*1;`),
			Replacement: "lv_display_set_rotation(display, LV_DISPLAY_ROTATION_90);",
		},
		{
			Name:        "check-rotation-0",
			Pattern:     regexp.MustCompile(`if\s*\(!display->sw_rotate\)`),
			Replacement: "if (lv_display_get_rotation(display) == LV_DISPLAY_ROTATION_0)",
		},
	}
}

// FileStatus describes what happened to a single driver file
type FileStatus string

const (
	StatusPatched FileStatus = "patched"
	StatusMissing FileStatus = "missing"
)

// FileResult is the outcome for one driver file
type FileResult struct {
	Path    string         `yaml:"path"`
	Status  FileStatus     `yaml:"status"`
	Matches map[string]int `yaml:"matches,omitempty"`
}

// Report summarizes a patch run
type Report struct {
	SourceDir     string       `yaml:"source_dir"`
	SourceMissing bool         `yaml:"source_missing"`
	Files         []FileResult `yaml:"files"`

	subs []Substitution
}

func (r *Report) totals() map[string]int {
	totals := make(map[string]int, len(r.subs))
	for _, sub := range r.subs {
		totals[sub.Name] = 0
	}

	for _, file := range r.Files {
		for name, count := range file.Matches {
			totals[name] += count
		}
	}
	return totals
}

// Unmatched returns the names of all substitutions which didn't match in any file
func (r *Report) Unmatched() []string {
	result := make([]string, 0)
	for name, count := range r.totals() {
		if count == 0 {
			result = append(result, name)
		}
	}

	sort.Strings(result)
	return result
}

// MissingRequired returns the names of required substitutions which didn't match in any file
func (r *Report) MissingRequired() []string {
	totals := r.totals()
	result := make([]string, 0)
	for _, sub := range r.subs {
		if sub.Required && totals[sub.Name] == 0 {
			result = append(result, sub.Name)
		}
	}
	return result
}

// Patched returns the paths of all files which were rewritten
func (r *Report) Patched() []string {
	result := make([]string, 0, len(r.Files))
	for _, file := range r.Files {
		if file.Status == StatusPatched {
			result = append(result, file.Path)
		}
	}
	return result
}

// Apply runs the substitutions in order and returns the new content along with the match count per substitution
func Apply(content string, subs []Substitution) (string, map[string]int) {
	matches := make(map[string]int, len(subs))
	for _, sub := range subs {
		count := len(sub.Pattern.FindAllStringIndex(content, -1))
		matches[sub.Name] = count
		if count > 0 {
			content = sub.Pattern.ReplaceAllLiteralString(content, sub.Replacement)
		}
	}

	return content, matches
}

// PatchFile rewrites a single file in place
func PatchFile(ctx context.Context, path string, subs []Substitution) (FileResult, error) {
	result := FileResult{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return result, eris.Wrapf(err, "failed to check %s", path)
	}

	content, err := ReadText(path)
	if err != nil {
		return result, eris.Wrapf(err, "failed to read %s", path)
	}

	content, result.Matches = Apply(content, subs)

	err = WriteText(path, content, info.Mode().Perm())
	if err != nil {
		return result, eris.Wrapf(err, "failed to write %s", path)
	}

	result.Status = StatusPatched
	buildenv.Log(ctx).Info().
		Str("hook", "patch-smartdisplay").
		Str("path", path).
		Msgf("Patched %s", path)

	return result, nil
}

// SourceDir returns the location of the library's sources for the env's target
func SourceDir(env *buildenv.Env) string {
	return filepath.Join(env.LibDepsDir, env.Target, LibraryName, "src")
}

// PatchSmartDisplay patches all driver files of the target's esp32_smartdisplay copy.
//
// A missing library is logged and reported through Report.SourceMissing; it's not an error. Missing driver
// files are skipped with a warning. I/O errors abort the run but files patched up to that point stay patched.
func PatchSmartDisplay(ctx context.Context, env *buildenv.Env) (*Report, error) {
	return PatchDir(ctx, SourceDir(env), DriverFiles, RotationSubstitutions())
}

// PatchDir applies subs to each of the given files in srcDir
func PatchDir(ctx context.Context, srcDir string, files []string, subs []Substitution) (*Report, error) {
	logger := buildenv.Log(ctx).With().Str("hook", "patch-smartdisplay").Logger()
	logger.Info().Msg("Applying patch for esp32_smartdisplay to work with LVGL 9.2.2...")

	report := &Report{
		SourceDir: srcDir,
		Files:     make([]FileResult, 0, len(files)),
		subs:      subs,
	}

	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			logger.Debug().Err(err).Msg("stat failed")
		}

		logger.Error().
			Str("path", srcDir).
			Msgf("Could not find esp32_smartdisplay library at %s", srcDir)
		report.SourceMissing = true
		return report, nil
	}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path := filepath.Join(srcDir, name)
		_, err := os.Stat(path)
		if err != nil {
			// any stat failure counts as a missing file, not only ENOENT
			event := logger.Warn().Str("path", path)
			if !eris.Is(err, os.ErrNotExist) {
				event = event.Err(err)
			}
			event.Msgf("File %s not found, skipping...", path)
			report.Files = append(report.Files, FileResult{Path: path, Status: StatusMissing})
			continue
		}

		result, err := PatchFile(ctx, path, subs)
		if err != nil {
			return report, err
		}
		report.Files = append(report.Files, result)
	}

	if unmatched := report.Unmatched(); len(unmatched) > 0 {
		logger.Debug().Strs("substitutions", unmatched).Msg("some substitutions didn't match anything")
	}

	logger.Info().Msg("Patch applied successfully.")
	return report, nil
}

// Hook runs PatchSmartDisplay as part of a hook chain. The environment itself is not modified.
func Hook(ctx context.Context, env *buildenv.Env) (*buildenv.Env, error) {
	report, err := PatchSmartDisplay(ctx, env)
	if err != nil {
		return nil, err
	}

	if missing := report.MissingRequired(); len(missing) > 0 {
		return nil, eris.Errorf("required substitutions %v didn't match any file in %s", missing, report.SourceDir)
	}

	return env, nil
}

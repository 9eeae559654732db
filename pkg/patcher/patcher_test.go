package patcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

const panelSource = `static void panel_init(lv_display_t *display)
{
    display->sw_rotate = 0;
    if (!display->sw_rotate) {
        return;
    }
    display->sw_rotate=1;
    if ( !display->sw_rotate)
        panel_swap_xy(true);
}
`

const panelPatched = `static void panel_init(lv_display_t *display)
{
    lv_display_set_rotation(display, LV_DISPLAY_ROTATION_0);
    if (lv_display_get_rotation(display) == LV_DISPLAY_ROTATION_0) {
        return;
    }
    lv_display_set_rotation(display, LV_DISPLAY_ROTATION_90);
    if ( !display->sw_rotate)
        panel_swap_xy(true);
}
`

type logEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

func captureLog(t *testing.T) (context.Context, func() []logEntry) {
	t.Helper()
	buffer := &bytes.Buffer{}
	logger := zerolog.New(buffer).Level(zerolog.InfoLevel)

	return buildenv.WithLogger(context.Background(), &logger), func() []logEntry {
		entries := make([]logEntry, 0)
		for _, line := range strings.Split(strings.TrimSpace(buffer.String()), "\n") {
			if line == "" {
				continue
			}

			var entry logEntry
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
			entries = append(entries, entry)
		}
		return entries
	}
}

func newEnv(t *testing.T) (*buildenv.Env, string) {
	t.Helper()
	root := t.TempDir()
	env := buildenv.New(root, filepath.Join(root, ".pio", "libdeps"), "esp32-2432S028R")
	return env, SourceDir(env)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}

func TestSourceDir(t *testing.T) {
	env := buildenv.New("/p", "/p/.pio/libdeps", "cyd")
	assert.Equal(t, filepath.Join("/p/.pio/libdeps", "cyd", "esp32_smartdisplay", "src"), SourceDir(env))
}

func TestApply(t *testing.T) {
	result, matches := Apply(panelSource, RotationSubstitutions())

	assert.Equal(t, panelPatched, result)
	assert.Equal(t, map[string]int{
		"set-rotation-0":   1,
		"set-rotation-90":  1,
		"check-rotation-0": 1,
	}, matches)

	again, matches := Apply(result, RotationSubstitutions())
	assert.Equal(t, result, again)
	assert.Equal(t, 0, matches["set-rotation-0"])
}

func TestApplyLiteralReplacement(t *testing.T) {
	subs := []Substitution{{
		Name:        "dollar",
		Pattern:     regexp.MustCompile(`(foo)`),
		Replacement: "$1bar",
	}}

	result, _ := Apply("foo", subs)
	assert.Equal(t, "$1bar", result)
}

func TestPatchSingleFile(t *testing.T) {
	ctx, entries := captureLog(t)
	env, srcDir := newEnv(t)
	target := filepath.Join(srcDir, "esp32_smartdisplay.c")
	writeFile(t, target, "display->sw_rotate = 0;")

	report, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)

	assert.Equal(t, "lv_display_set_rotation(display, LV_DISPLAY_ROTATION_0);", readFile(t, target))
	assert.False(t, report.SourceMissing)
	assert.Equal(t, []string{target}, report.Patched())
	assert.Len(t, report.Files, len(DriverFiles))
	assert.Equal(t, []string{"check-rotation-0", "set-rotation-90"}, report.Unmatched())

	var patched, warnings int
	for _, entry := range entries() {
		if entry.Message == "Patched "+target {
			patched++
		}
		if entry.Level == "warn" {
			warnings++
		}
	}
	assert.Equal(t, 1, patched)
	assert.Equal(t, len(DriverFiles)-1, warnings)
}

func TestPatchMissingDirectory(t *testing.T) {
	ctx, entries := captureLog(t)
	env, srcDir := newEnv(t)

	report, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)
	assert.True(t, report.SourceMissing)
	assert.Empty(t, report.Files)

	_, err = os.Stat(srcDir)
	assert.True(t, os.IsNotExist(err))

	logged := entries()
	require.NotEmpty(t, logged)
	last := logged[len(logged)-1]
	assert.Equal(t, "error", last.Level)
	assert.Contains(t, last.Message, "Could not find esp32_smartdisplay library at "+srcDir)
}

func TestPatchSkipsMissingFile(t *testing.T) {
	ctx, entries := captureLog(t)
	env, srcDir := newEnv(t)

	for _, name := range DriverFiles {
		if name != "lvgl_panel_gc9a01_spi.c" {
			writeFile(t, filepath.Join(srcDir, name), panelSource)
		}
	}

	report, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)
	assert.Len(t, report.Patched(), len(DriverFiles)-1)
	assert.Empty(t, report.Unmatched())

	for _, name := range DriverFiles {
		if name != "lvgl_panel_gc9a01_spi.c" {
			assert.Equal(t, panelPatched, readFile(t, filepath.Join(srcDir, name)), name)
		}
	}

	missing := filepath.Join(srcDir, "lvgl_panel_gc9a01_spi.c")
	_, err = os.Stat(missing)
	assert.True(t, os.IsNotExist(err))

	warned := false
	for _, entry := range entries() {
		if entry.Level == "warn" {
			assert.Equal(t, "File "+missing+" not found, skipping...", entry.Message)
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestPatchSkipsUnreadablePath(t *testing.T) {
	ctx, entries := captureLog(t)
	_, srcDir := newEnv(t)

	writeFile(t, filepath.Join(srcDir, "plain.c"), panelSource)
	writeFile(t, filepath.Join(srcDir, "esp32_smartdisplay.c"), panelSource)

	// plain.c is a file, so stat on a path below it fails with ENOTDIR
	blocked := filepath.Join(srcDir, "plain.c", "nested.c")
	report, err := PatchDir(ctx, srcDir, []string{"plain.c/nested.c", "esp32_smartdisplay.c"}, RotationSubstitutions())
	require.NoError(t, err)

	require.Len(t, report.Files, 2)
	assert.Equal(t, StatusMissing, report.Files[0].Status)
	assert.Equal(t, StatusPatched, report.Files[1].Status)
	assert.Equal(t, panelPatched, readFile(t, filepath.Join(srcDir, "esp32_smartdisplay.c")))

	warned := false
	for _, entry := range entries() {
		if entry.Level == "warn" {
			assert.Equal(t, "File "+blocked+" not found, skipping...", entry.Message)
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestPatchIsIdempotent(t *testing.T) {
	ctx, _ := captureLog(t)
	env, srcDir := newEnv(t)

	for _, name := range DriverFiles {
		writeFile(t, filepath.Join(srcDir, name), panelSource)
	}

	_, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)

	first := map[string]string{}
	for _, name := range DriverFiles {
		first[name] = readFile(t, filepath.Join(srcDir, name))
	}

	report, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"check-rotation-0", "set-rotation-0", "set-rotation-90"}, report.Unmatched())

	for _, name := range DriverFiles {
		assert.Equal(t, first[name], readFile(t, filepath.Join(srcDir, name)), name)
	}
}

func TestPatchNormalizesLineEndings(t *testing.T) {
	ctx, _ := captureLog(t)
	env, srcDir := newEnv(t)
	target := filepath.Join(srcDir, "lvgl_panel_st7789_spi.c")
	writeFile(t, target, "display->sw_rotate = 1;\r\nint x;\r\n")

	_, err := PatchSmartDisplay(ctx, env)
	require.NoError(t, err)

	assert.Equal(t, "lv_display_set_rotation(display, LV_DISPLAY_ROTATION_90);\nint x;\n", readFile(t, target))
}

func TestHookRequiredSubstitution(t *testing.T) {
	ctx, _ := captureLog(t)
	env, srcDir := newEnv(t)
	writeFile(t, filepath.Join(srcDir, "esp32_smartdisplay.c"), "int main() {}\n")

	result, err := Hook(ctx, env)
	require.NoError(t, err)
	assert.Same(t, env, result)

	subs := RotationSubstitutions()
	subs[0].Required = true
	report, err := PatchDir(ctx, srcDir, DriverFiles, subs)
	require.NoError(t, err)
	assert.Equal(t, []string{"set-rotation-0"}, report.MissingRequired())
}

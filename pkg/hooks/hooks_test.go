package hooks

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

func testContext() (context.Context, *bytes.Buffer) {
	buffer := &bytes.Buffer{}
	logger := zerolog.New(buffer)
	return buildenv.WithLogger(context.Background(), &logger), buffer
}

func baseEnv() *buildenv.Env {
	env := buildenv.New("/project", "/project/.pio/libdeps", "esp32dev")
	env.Replace(buildenv.BuildFlags, []string{"-DCORE_DEBUG_LEVEL=3", "-DLV_CONF_INCLUDE_SIMPLE", "-DCORE_DEBUG_LEVEL=3"})
	return env
}

func TestExcludeAsmFilesFlags(t *testing.T) {
	ctx, _ := testContext()
	original := baseEnv()

	env, err := ExcludeAsmFiles(ctx, original)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-DCORE_DEBUG_LEVEL=3",
		"-DLV_CONF_INCLUDE_SIMPLE",
		"-DCORE_DEBUG_LEVEL=3",
		"-DLV_USE_DRAW_SW_ASM=0",
		"-DLV_USE_DRAW_SW_HELIUM=0",
		"-DLV_USE_DRAW_SW_NEON=0",
		"-DLV_USE_VECTOR_GRAPHIC=0",
	}, env.Get(buildenv.BuildFlags))
	assert.Equal(t, []string{"-<**/*.S>", "-<**/*.s>"}, env.Get(buildenv.SrcFilter))
	assert.Equal(t, 1, env.Middlewares())

	// the input is left alone
	assert.Len(t, original.Get(buildenv.BuildFlags), 3)
	assert.False(t, original.Has(buildenv.SrcFilter))
	assert.Equal(t, 0, original.Middlewares())
}

func TestExcludeAsmFilesMiddleware(t *testing.T) {
	ctx, buffer := testContext()
	env, err := ExcludeAsmFiles(ctx, buildenv.New("", "", ""))
	require.NoError(t, err)

	nodes := []buildenv.FileNode{"a.c", "b.S", "c.s", "d.cpp"}
	results := make([]buildenv.Node, len(nodes))
	for idx, node := range nodes {
		results[idx] = env.ProcessNode(node)
	}

	assert.Equal(t, buildenv.FileNode("a.c"), results[0])
	assert.Nil(t, results[1])
	assert.Nil(t, results[2])
	assert.Equal(t, buildenv.FileNode("d.cpp"), results[3])

	output := buffer.String()
	assert.Contains(t, output, "Excluding assembly file: b.S")
	assert.Contains(t, output, "Excluding assembly file: c.s")
	assert.NotContains(t, output, "Excluding assembly file: a.c")
	assert.Contains(t, output, "Applying custom build configuration to exclude assembly files...")
	assert.Contains(t, output, "Custom build configuration applied successfully.")
}

func TestSkipAssembly(t *testing.T) {
	ctx, buffer := testContext()
	env := baseEnv()
	env.Replace(buildenv.SrcFilter, []string{"+<*>"})

	result, err := SkipAssembly(ctx, env)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-DCORE_DEBUG_LEVEL=3",
		"-DLV_CONF_INCLUDE_SIMPLE",
		"-DCORE_DEBUG_LEVEL=3",
		"-DLVGL_SKIP_ASSEMBLY=1",
	}, result.Get(buildenv.BuildFlags))
	assert.Equal(t, []string{"+<*>", "-<**/*.S>", "-<**/*.s>"}, result.Get(buildenv.SrcFilter))
	assert.Equal(t, 0, result.Middlewares())
	assert.Empty(t, buffer.String())
}

func TestFiltersClassifyAssembly(t *testing.T) {
	ctx, _ := testContext()

	for name, hook := range map[string]Hook{"exclude-asm": ExcludeAsmFiles, "skip-asm": SkipAssembly} {
		env, err := hook(ctx, buildenv.New("", "", ""))
		require.NoError(t, err)

		for path, expected := range map[string]bool{
			"foo/bar.S": true,
			"foo/bar.s": true,
			"foo/bar.c": false,
		} {
			excluded, err := buildenv.Excluded(env.Get(buildenv.SrcFilter), path)
			require.NoError(t, err)
			assert.Equal(t, expected, excluded, "%s: %s", name, path)
		}
	}
}

func TestIsAssemblyFile(t *testing.T) {
	assert.True(t, IsAssemblyFile("lv_blend_neon.S"))
	assert.True(t, IsAssemblyFile("dir/x.s"))
	assert.False(t, IsAssemblyFile("x.sx"))
	assert.False(t, IsAssemblyFile("x.c"))
	assert.False(t, IsAssemblyFile("S"))
}

func TestRegistryRun(t *testing.T) {
	ctx, _ := testContext()

	env, err := Default.Run(ctx, buildenv.New("", "", ""), "exclude-asm", "skip-asm")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-DLV_USE_DRAW_SW_ASM=0",
		"-DLV_USE_DRAW_SW_HELIUM=0",
		"-DLV_USE_DRAW_SW_NEON=0",
		"-DLV_USE_VECTOR_GRAPHIC=0",
		"-DLVGL_SKIP_ASSEMBLY=1",
	}, env.Get(buildenv.BuildFlags))
	assert.Equal(t, []string{"-<**/*.S>", "-<**/*.s>", "-<**/*.S>", "-<**/*.s>"}, env.Get(buildenv.SrcFilter))

	_, err = Default.Run(ctx, buildenv.New("", "", ""), "skip-asm", "nope")
	assert.Error(t, err)

	assert.Equal(t, []string{"exclude-asm", "patch-smartdisplay", "skip-asm"}, Default.Names())
}

func TestRegistryRunsPatch(t *testing.T) {
	ctx, _ := testContext()
	root := t.TempDir()
	env := buildenv.New(root, filepath.Join(root, "libdeps"), "cyd")

	src := filepath.Join(root, "libdeps", "cyd", "esp32_smartdisplay", "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	target := filepath.Join(src, "lvgl_panel_ili9341_spi.c")
	require.NoError(t, ioutil.WriteFile(target, []byte("if (!display->sw_rotate)\n"), 0o644))

	_, err := Default.Run(ctx, env, "patch-smartdisplay")
	require.NoError(t, err)

	data, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "if (lv_display_get_rotation(display) == LV_DISPLAY_ROTATION_0)", strings.TrimSpace(string(data)))
}

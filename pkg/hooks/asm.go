package hooks

import (
	"context"
	"strings"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

// Defines which turn off the hand-written SIMD/assembly paths of LVGL's software renderer and the vector
// graphics module (which pulls in ThorVG's assembly on some targets).
var asmDisableFlags = []string{
	"-DLV_USE_DRAW_SW_ASM=0",
	"-DLV_USE_DRAW_SW_HELIUM=0",
	"-DLV_USE_DRAW_SW_NEON=0",
	"-DLV_USE_VECTOR_GRAPHIC=0",
}

const skipAssemblyFlag = "-DLVGL_SKIP_ASSEMBLY=1"

// AsmFilters are the source filter rules excluding upper- and lowercase assembly files
var AsmFilters = []string{
	"-<**/*.S>",
	"-<**/*.s>",
}

// IsAssemblyFile reports whether path ends in .S or .s
func IsAssemblyFile(path string) bool {
	return strings.HasSuffix(path, ".S") || strings.HasSuffix(path, ".s")
}

func asmMiddleware(ctx context.Context) buildenv.Middleware {
	return func(node buildenv.Node) buildenv.Node {
		name := node.Path()
		if IsAssemblyFile(name) {
			buildenv.Log(ctx).Info().
				Str("hook", "exclude-asm").
				Str("path", name).
				Msgf("Excluding assembly file: %s", name)
			return nil
		}

		return node
	}
}

// ExcludeAsmFiles disables LVGL's optimized draw paths with defines, filters assembly sources and registers a
// middleware dropping any assembly file that makes it past the filter.
func ExcludeAsmFiles(ctx context.Context, env *buildenv.Env) (*buildenv.Env, error) {
	logger := buildenv.Log(ctx).With().Str("hook", "exclude-asm").Logger()
	logger.Info().Msg("Applying custom build configuration to exclude assembly files...")

	env = env.Clone()

	buildFlags := env.Get(buildenv.BuildFlags)
	buildFlags = append(buildFlags, asmDisableFlags...)
	env.Replace(buildenv.BuildFlags, buildFlags)

	env.Append(buildenv.SrcFilter, AsmFilters...)
	env.AddBuildMiddleware(asmMiddleware(ctx))

	logger.Info().Msg("Custom build configuration applied successfully.")
	return env, nil
}

// SkipAssembly only sets LVGL_SKIP_ASSEMBLY and relies on the source filter to keep assembly files out
func SkipAssembly(ctx context.Context, env *buildenv.Env) (*buildenv.Env, error) {
	env = env.Clone()

	buildFlags := env.Get(buildenv.BuildFlags)
	buildFlags = append(buildFlags, skipAssemblyFlag)
	env.Replace(buildenv.BuildFlags, buildFlags)

	srcFilter := env.Get(buildenv.SrcFilter)
	srcFilter = append(srcFilter, AsmFilters...)
	env.Replace(buildenv.SrcFilter, srcFilter)

	return env, nil
}

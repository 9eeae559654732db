package buildenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsCopy(t *testing.T) {
	env := New("/project", "/project/.pio/libdeps", "esp32dev")
	assert.Empty(t, env.Get(BuildFlags))
	assert.False(t, env.Has(BuildFlags))

	env.Replace(BuildFlags, []string{"-DA=1"})
	flags := env.Get(BuildFlags)
	flags[0] = "-DB=1"

	assert.Equal(t, []string{"-DA=1"}, env.Get(BuildFlags))
	assert.True(t, env.Has(BuildFlags))
}

func TestAppendKeepsDuplicates(t *testing.T) {
	env := New("", "", "")
	env.Append(SrcFilter, "-<**/*.S>")
	env.Append(SrcFilter, "-<**/*.S>", "-<**/*.s>")

	assert.Equal(t, []string{"-<**/*.S>", "-<**/*.S>", "-<**/*.s>"}, env.Get(SrcFilter))
}

func TestVar(t *testing.T) {
	env := New("/p", "/p/libdeps", "cyd")

	for name, expected := range map[string]string{
		ProjectDirVar: "/p",
		LibDepsDirVar: "/p/libdeps",
		TargetVar:     "cyd",
	} {
		value, ok := env.Var(name)
		assert.True(t, ok, name)
		assert.Equal(t, expected, value, name)
	}

	_, ok := env.Var("CC")
	assert.False(t, ok)
}

func TestProcessNode(t *testing.T) {
	env := New("", "", "")
	calls := []string{}

	env.AddBuildMiddleware(func(n Node) Node {
		calls = append(calls, "first:"+n.Path())
		if n.Path() == "drop.c" {
			return nil
		}
		return n
	})
	env.AddBuildMiddleware(func(n Node) Node {
		calls = append(calls, "second:"+n.Path())
		return n
	})

	assert.Equal(t, FileNode("keep.c"), env.ProcessNode(FileNode("keep.c")))
	assert.Nil(t, env.ProcessNode(FileNode("drop.c")))
	assert.Equal(t, []string{"first:keep.c", "second:keep.c", "first:drop.c"}, calls)
}

func TestCloneIsIndependent(t *testing.T) {
	env := New("/p", "/l", "t")
	env.Replace(BuildFlags, []string{"-DA"})
	env.AddBuildMiddleware(func(n Node) Node { return n })

	clone := env.Clone()
	clone.Append(BuildFlags, "-DB")
	clone.AddBuildMiddleware(func(Node) Node { return nil })
	clone.Target = "other"

	assert.Equal(t, []string{"-DA"}, env.Get(BuildFlags))
	assert.Equal(t, []string{"-DA", "-DB"}, clone.Get(BuildFlags))
	assert.Equal(t, 1, env.Middlewares())
	assert.Equal(t, 2, clone.Middlewares())
	assert.Equal(t, "t", env.Target)
	require.Equal(t, []string{BuildFlags}, clone.Settings())
}

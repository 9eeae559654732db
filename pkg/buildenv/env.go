// Package buildenv models the per-target build environment that extra scripts operate on.
//
// The host build tool hands every script the same mutable environment. Here the environment is an
// explicit value instead: hooks receive an *Env, clone it and return the modified copy.
package buildenv

import (
	"sort"
)

// Names of the settings touched by the hooks in this repository
const (
	BuildFlags = "BUILD_FLAGS"
	SrcFilter  = "SRC_FILTER"

	ProjectDirVar = "PROJECT_DIR"
	LibDepsDirVar = "PROJECT_LIBDEPS_DIR"
	TargetVar     = "PIOENV"
)

// Node is a candidate source file considered for compilation
type Node interface {
	Path() string
}

// FileNode is the plain Node implementation used for files found on disk
type FileNode string

// Path returns the path of the file
func (n FileNode) Path() string {
	return string(n)
}

// Middleware decides whether a node takes part in the build. Returning nil drops the node.
type Middleware func(Node) Node

// Env holds the settings and middlewares of one build target
type Env struct {
	ProjectDir string
	LibDepsDir string
	Target     string

	settings    map[string][]string
	middlewares []Middleware
}

// New creates an empty environment for the given target
func New(projectDir, libDepsDir, target string) *Env {
	return &Env{
		ProjectDir: projectDir,
		LibDepsDir: libDepsDir,
		Target:     target,
		settings:   make(map[string][]string),
	}
}

// Var returns one of the scalar variables (PROJECT_DIR, PROJECT_LIBDEPS_DIR, PIOENV).
// The second return value is false for unknown names.
func (e *Env) Var(name string) (string, bool) {
	switch name {
	case ProjectDirVar:
		return e.ProjectDir, true
	case LibDepsDirVar:
		return e.LibDepsDir, true
	case TargetVar:
		return e.Target, true
	}

	return "", false
}

// Get returns a copy of the named list setting. Unset settings yield an empty list.
func (e *Env) Get(name string) []string {
	values := e.settings[name]
	result := make([]string, len(values))
	copy(result, values)
	return result
}

// Has reports whether the named setting has been set
func (e *Env) Has(name string) bool {
	_, ok := e.settings[name]
	return ok
}

// Replace overwrites the named setting
func (e *Env) Replace(name string, values []string) {
	stored := make([]string, len(values))
	copy(stored, values)
	e.settings[name] = stored
}

// Append adds values to the end of the named setting. Duplicates are kept.
func (e *Env) Append(name string, values ...string) {
	e.settings[name] = append(e.settings[name], values...)
}

// Settings returns the names of all settings in alphabetical order
func (e *Env) Settings() []string {
	names := make([]string, 0, len(e.settings))
	for name := range e.settings {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// AddBuildMiddleware registers a middleware which is consulted for every source file
func (e *Env) AddBuildMiddleware(mw Middleware) {
	e.middlewares = append(e.middlewares, mw)
}

// Middlewares returns the number of registered middlewares
func (e *Env) Middlewares() int {
	return len(e.middlewares)
}

// ProcessNode runs the middlewares in registration order. The result is nil if any of them dropped the node.
func (e *Env) ProcessNode(node Node) Node {
	for _, mw := range e.middlewares {
		node = mw(node)
		if node == nil {
			return nil
		}
	}

	return node
}

// Clone returns a deep copy of the environment. Middlewares are shared since they're plain functions.
func (e *Env) Clone() *Env {
	clone := &Env{
		ProjectDir:  e.ProjectDir,
		LibDepsDir:  e.LibDepsDir,
		Target:      e.Target,
		settings:    make(map[string][]string, len(e.settings)),
		middlewares: make([]Middleware, len(e.middlewares)),
	}

	for name, values := range e.settings {
		clone.Replace(name, values)
	}
	copy(clone.middlewares, e.middlewares)

	return clone
}

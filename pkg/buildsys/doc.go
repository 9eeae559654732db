// Package buildsys runs Starlark extra scripts against a build environment.
//
// Scripts see a predeclared env value with the same get/Replace/Append/AddBuildMiddleware calls the host
// tool offers its own extra scripts, plus a few helpers for file access and logging. This keeps small build
// tweaks scriptable without recompiling the tool.
package buildsys

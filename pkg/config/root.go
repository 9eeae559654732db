package config

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ProjectFile marks the root of a PlatformIO project
const ProjectFile = "platformio.ini"

// FindProjectRoot walks up from start until it finds a directory containing platformio.ini
func FindProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		_, err := os.Stat(filepath.Join(mypath, ProjectFile))
		if err == nil {
			return mypath, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrap(err, "Error ocurred while searching for project root")
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.Errorf("no %s found in %s or its parents", ProjectFile, start)
}

// ResolveProjectDir replaces the default project directory with the enclosing PlatformIO project, if there is one.
// PlatformIO runs commands from the project root so this mostly matters when the CLI is invoked by hand.
func (cfg *Config) ResolveProjectDir() {
	if cfg.ProjectDir != "." {
		return
	}

	root, err := FindProjectRoot(cfg.ProjectDir)
	if err == nil {
		cfg.ProjectDir = root
	}
}

// ABOUTME: Standard filesystem paths for forseti configuration and installed engines
// ABOUTME: Resolves ~/.forseti/ for global state and .forseti.yaml for project config

package config

import (
	"os"
	"path/filepath"
)

const (
	globalDirName      = ".forseti"
	projectConfigName  = ".forseti.yaml"
	globalConfigName   = "config.yaml"
	engineCacheDirName = "cache"
)

// GlobalDir returns the user-global directory (~/.forseti/).
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", globalDirName)
	}
	return filepath.Join(home, globalDirName)
}

// GlobalConfigFile returns the path to the global config file.
func GlobalConfigFile() string {
	return filepath.Join(GlobalDir(), globalConfigName)
}

// ProjectConfigFile returns the path to the project config file.
func ProjectConfigFile(projectRoot string) string {
	return filepath.Join(projectRoot, projectConfigName)
}

// CacheDir is where engine packages are installed: each package lives in
// <cache>/<pkg>/bin/forseti_engine_*.
func CacheDir() string {
	return filepath.Join(GlobalDir(), engineCacheDirName)
}

// EnsureDir creates a directory and all parents if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

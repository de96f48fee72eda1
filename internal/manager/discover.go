// ABOUTME: Engine discovery: scans search paths for <pkg>/bin/forseti_engine_* binaries
// ABOUTME: An optional engine.yaml manifest next to bin/ overrides id, args, env, and file patterns

package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mauromedda/forseti-go/internal/log"
)

const (
	// BinaryPrefix marks an executable as an engine.
	BinaryPrefix = "forseti_engine_"
	// ManifestFile is the optional per-package manifest name.
	ManifestFile = "engine.yaml"
)

// DefaultFilePatterns is used when neither a manifest nor the engine's
// capabilities name any patterns.
var DefaultFilePatterns = []string{"*"}

// EngineInfo describes an installed engine. Discovery never starts it.
type EngineInfo struct {
	ID           string
	BinaryPath   string
	Args         []string
	Env          []string
	Version      string
	FilePatterns []string
	SearchPath   string
}

// Manifest is the on-disk engine.yaml.
type Manifest struct {
	ID           string            `yaml:"id" validate:"required,max=128,excludesall=/\\"`
	Version      string            `yaml:"version" validate:"omitempty,max=64"`
	Binary       string            `yaml:"binary" validate:"omitempty,excludesall=\\"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env" validate:"omitempty,dive,keys,required,excludesall==,endkeys"`
	FilePatterns []string          `yaml:"filePatterns" validate:"omitempty,dive,required"`
}

var manifestValidate = validator.New()

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := manifestValidate.Struct(m); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	for _, p := range m.FilePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return Manifest{}, fmt.Errorf("invalid manifest %s: pattern %q: %w", path, p, err)
		}
	}
	return m, nil
}

// IDFromBinary derives an engine id from its file name: the extension and
// the leading "forseti_" are dropped, so forseti_engine_text becomes
// engine_text.
func IDFromBinary(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimPrefix(stem, "forseti_")
}

// Discover scans every search path. Missing paths are skipped. When two
// engines share an id the first found wins.
func Discover(searchPaths []string) ([]EngineInfo, error) {
	var (
		found []EngineInfo
		seen  = map[string]string{}
		errs  []error
	)
	for _, root := range searchPaths {
		infos, err := discoverPath(root)
		if err != nil {
			errs = append(errs, err)
		}
		for _, info := range infos {
			if prev, dup := seen[info.ID]; dup {
				log.Warn("engine %s at %s shadowed by %s", info.ID, info.BinaryPath, prev)
				continue
			}
			seen[info.ID] = info.BinaryPath
			found = append(found, info)
		}
	}
	return found, errors.Join(errs...)
}

func discoverPath(root string) ([]EngineInfo, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading search path %s: %w", root, err)
	}

	var (
		infos []EngineInfo
		errs  []error
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgDir := filepath.Join(root, e.Name())
		got, err := discoverPackage(root, pkgDir)
		if err != nil {
			log.Warn("skipping engine package %s: %v", pkgDir, err)
			errs = append(errs, err)
			continue
		}
		infos = append(infos, got...)
	}
	return infos, errors.Join(errs...)
}

func discoverPackage(root, pkgDir string) ([]EngineInfo, error) {
	binaries, err := engineBinaries(filepath.Join(pkgDir, "bin"))
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(pkgDir, ManifestFile)
	m, err := LoadManifest(manifestPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		infos := make([]EngineInfo, 0, len(binaries))
		for _, bin := range binaries {
			infos = append(infos, EngineInfo{
				ID:           IDFromBinary(filepath.Base(bin)),
				BinaryPath:   bin,
				FilePatterns: append([]string(nil), DefaultFilePatterns...),
				SearchPath:   root,
			})
		}
		return infos, nil
	case err != nil:
		return nil, err
	}

	bin := ""
	if m.Binary != "" {
		bin = filepath.Join(pkgDir, filepath.FromSlash(m.Binary))
		if !isExecutable(bin) {
			return nil, fmt.Errorf("manifest %s: binary %s is not executable", manifestPath, bin)
		}
	} else if len(binaries) > 0 {
		bin = binaries[0]
	} else {
		return nil, fmt.Errorf("manifest %s: no %s* binary under bin/", manifestPath, BinaryPrefix)
	}

	patterns := m.FilePatterns
	if len(patterns) == 0 {
		patterns = DefaultFilePatterns
	}
	return []EngineInfo{{
		ID:           m.ID,
		BinaryPath:   bin,
		Args:         m.Args,
		Env:          envList(m.Env),
		Version:      m.Version,
		FilePatterns: append([]string(nil), patterns...),
		SearchPath:   root,
	}}, nil
}

// engineBinaries lists executables named forseti_engine_* in dir, sorted.
func engineBinaries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), BinaryPrefix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if isExecutable(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const defaultBaseDir = ".veil"

// Paths holds resolved filesystem paths for veil data.
type Paths struct {
	Base    string // ~/.veil
	Config  string // ~/.veil/config.yaml
	EnvFile string // ~/.veil/.env
	Data    string // ~/.veil/data
	Logs    string // ~/.veil/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If VEIL_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("VEIL_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		EnvFile: filepath.Join(base, ".env"),
		Data:    filepath.Join(base, "data"),
		Logs:    filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// HistoryDB returns the sqlite history path, honoring an explicit override.
func (p Paths) HistoryDB(cfg Config) string {
	if cfg.History.Path != "" {
		return cfg.History.Path
	}
	return filepath.Join(p.Data, "veil.db")
}

// segmentPattern matches one YAML key in a dotted config path.
var segmentPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ParseConfigPath splits a dot-separated config path such as
// "cache.ttlSeconds" into segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if !segmentPattern.MatchString(p) {
			return nil, &ConfigError{Message: "invalid config path segment: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetValueAtPath sets a value in a nested map, creating or replacing
// intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	parent := root
	for _, key := range path[:len(path)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			parent[key] = child
		}
		parent = child
	}
	parent[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent := root
	for _, key := range path[:len(path)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return false
		}
		parent = child
	}
	last := path[len(path)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	return true
}

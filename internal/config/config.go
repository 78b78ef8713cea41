// Package config loads and merges the three-layer JSON configuration
// (base, SoC-specific, overrides) described in spec.md §6, decoding
// it with mapstructure/cast the way gone/hugorm decodes its merged
// settings map, and supports live reload of the overrides layer via
// fsnotify. JSON comment stripping is grounded on jconf/config.go's
// filterComments.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
)

// Settings is the decoded form of the merged configuration (spec.md
// §6's recognized-keys table).
type Settings struct {
	EnvironmentVariables         []string `mapstructure:"environmentVariables"`
	ExtraEnvVariables            []string `mapstructure:"extraEnvVariables"`
	SessionServerPath            string   `mapstructure:"sessionServerPath"`
	StartupTimeoutMs             uint     `mapstructure:"startupTimeoutMs"`
	HealthcheckIntervalInSeconds uint     `mapstructure:"healthcheckIntervalInSeconds"`
	SocketPermissions            uint     `mapstructure:"socketPermissions"`
	SocketOwner                  string   `mapstructure:"socketOwner"`
	SocketGroup                  string   `mapstructure:"socketGroup"`
	NumOfPreloadedServers        uint     `mapstructure:"numOfPreloadedServers"`
	NumOfPingsBeforeRecovery     uint     `mapstructure:"numOfPingsBeforeRecovery"`
	LogLevel                     uint     `mapstructure:"logLevel"`
}

// Defaults returns the built-in defaults every layer starts from.
func Defaults() Settings {
	return Settings{
		SessionServerPath:            "/usr/bin/RialtoSessionServer",
		StartupTimeoutMs:             5000,
		HealthcheckIntervalInSeconds: 5,
		SocketPermissions:            660,
		NumOfPreloadedServers:        1,
		NumOfPingsBeforeRecovery:     3,
	}
}

// StartupTimeout is StartupTimeoutMs as a time.Duration. 0 means
// disabled (spec.md §6).
func (s Settings) StartupTimeout() time.Duration {
	return time.Duration(s.StartupTimeoutMs) * time.Millisecond
}

// HealthcheckInterval is HealthcheckIntervalInSeconds as a
// time.Duration. 0 means disabled.
func (s Settings) HealthcheckInterval() time.Duration {
	return time.Duration(s.HealthcheckIntervalInSeconds) * time.Second
}

// SocketMode decodes the decimal-octal-digit SocketPermissions value
// (e.g. 640) into owner/group/other bit triples.
func (s Settings) SocketMode() (owner, group, other uint8) {
	v := s.SocketPermissions
	return uint8((v / 100) % 10), uint8((v / 10) % 10), uint8(v % 10)
}

// Load reads base, soc, and overrides (any of which may be empty or
// not exist — a missing layer leaves the accumulated values as they
// were) and merges them key by key, except extraEnvVariables which
// is appended across every layer that defines it rather than
// replaced.
func Load(basePath, socPath, overridesPath string) (Settings, error) {
	merged := map[string]interface{}{}
	var extraEnv []string

	for _, path := range []string{basePath, socPath, overridesPath} {
		if path == "" {
			continue
		}
		layer, err := readLayer(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Settings{}, err
		}
		if v, ok := layer["extraEnvVariables"]; ok {
			if arr, ok := v.([]interface{}); ok {
				for _, item := range arr {
					extraEnv = append(extraEnv, cast.ToString(item))
				}
			}
			delete(layer, "extraEnvVariables")
		}
		for k, v := range layer {
			merged[k] = v
		}
	}
	if len(extraEnv) > 0 {
		merged["extraEnvVariables"] = extraEnv
	}

	settings := Defaults()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &settings,
	})
	if err != nil {
		return Settings{}, err
	}
	if err := decoder.Decode(merged); err != nil {
		return Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	return settings, nil
}

func readLayer(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	filterComments(data)
	var layer map[string]interface{}
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return layer, nil
}

// filterComments blanks out C++-style "//" line comments outside of
// JSON string literals, in place. Lifted from jconf/config.go.
func filterComments(data []byte) {
	var inString, inComment bool
	for i := 0; i < len(data); i++ {
		c := data[i]
		if !inComment && c == '"' && i >= 1 && data[i-1] != '\\' {
			inString = !inString
		}
		if inString || i == 0 {
			continue
		}
		switch {
		case inComment && c == '\n':
			inComment = false
		case c == '/' && data[i-1] == '/':
			inComment = true
			data[i] = ' '
			data[i-1] = ' '
		case inComment:
			data[i] = ' '
		}
	}
}

// LoadEnvFile reads a dotenv-style file (KEY=VALUE per line) and
// returns it as a "K=V" slice suitable for appending to a child's
// environment.
func LoadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vars, err := gotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse env file %s: %w", path, err)
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// Watcher notifies on changes to a single overrides file, tolerating
// the replace-via-rename pattern most editors and config-management
// tools use by watching the file's containing directory.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
	stop chan struct{}
}

// WatchFile starts watching path and calls onChange (on its own
// goroutine) whenever it is written or replaced.
func WatchFile(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, path: path, stop: make(chan struct{})}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func()) {
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				onChange()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}

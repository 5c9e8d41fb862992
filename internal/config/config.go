// Package config loads and validates packetry's on-disk configuration
// and the small per-user state file that remembers the last directory
// used for open/save dialogs. Both are JSON decoded into a typed struct;
// only the configuration file is first validated against an embedded
// JSON Schema document, the state file is not.
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

// Config is packetry's top-level configuration, all fields optional;
// Default returns the zero-value-safe defaults applied before a config
// file is merged in.
type Config struct {
	StoreCapacity            uint64  `json:"store-capacity"`
	QueueSize                int     `json:"queue-size"`
	SnapLen                  uint32  `json:"snap-len"`
	DefaultFormat            string  `json:"default-format"`
	RateLimitEventsPerSecond float64 `json:"rate-limit-events-per-second"`
	RateLimitBurst           int     `json:"rate-limit-burst"`
	MetricsAddr              string  `json:"metrics-addr"`
	HTTPAddr                 string  `json:"http-addr"`
	LastOpenDir              string  `json:"last-open-dir"`
	LastSaveDir              string  `json:"last-save-dir"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		QueueSize:                256,
		SnapLen:                  1 << 20,
		DefaultFormat:            "pcapng",
		RateLimitEventsPerSecond: 0, // 0 disables rate limiting
		RateLimitBurst:           1,
		MetricsAddr:              ":9090",
		HTTPAddr:                 ":8080",
	}
}

// Load reads and validates the config file at path against the embedded
// schema, then decodes it over Default(). A missing file is not an
// error: Load returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := validate(raw); err != nil {
		return Config{}, fmt.Errorf("validate config %q: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

func validate(raw []byte) error {
	s, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// UIState is the small per-user state file persisting the last
// directory used for each file dialog, the only state this tool
// persists outside of a capture file itself.
type UIState struct {
	LastOpenDir string `json:"last-open-dir"`
	LastSaveDir string `json:"last-save-dir"`
}

// LoadUIState reads path, returning a zero-value UIState if it doesn't
// exist yet (e.g. first run).
func LoadUIState(path string) (UIState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return UIState{}, nil
		}
		return UIState{}, err
	}
	var st UIState
	if err := json.Unmarshal(raw, &st); err != nil {
		return UIState{}, fmt.Errorf("decode UI state %q: %w", path, err)
	}
	return st, nil
}

// SaveUIState writes st to path as indented JSON.
func SaveUIState(path string, st UIState) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

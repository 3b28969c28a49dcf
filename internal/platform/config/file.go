package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML session config file. All duration fields are whole
// seconds. Pointer fields distinguish "unset" from an explicit false so CLI
// flags and defaults can layer cleanly on top.
type File struct {
	Channel     string `yaml:"channel"`
	DisplayName string `yaml:"display_name"`
	OutputDir   string `yaml:"output_dir"`

	Quality       string `yaml:"quality"`
	StreamTimeout int    `yaml:"stream_timeout"`

	InitialWait   int `yaml:"initial_wait"`
	RetryInterval int `yaml:"retry_interval"`

	ReconnectGracePeriod   int `yaml:"reconnect_grace_period"`
	ReconnectCheckInterval int `yaml:"reconnect_check_interval"`
	MaxReconnects          int `yaml:"max_reconnects"`

	MergeSegments   *bool `yaml:"merge_segments"`
	CleanupSegments *bool `yaml:"cleanup_segments"`

	FFmpegPath     string   `yaml:"ffmpeg_path"`
	StreamlinkPath string   `yaml:"streamlink_path"`
	StreamlinkArgs []string `yaml:"streamlink_args"`
}

// LoadFile parses the YAML config file at path. Unknown keys are rejected
// so a typo fails loudly instead of silently falling back to a default.
func LoadFile(path string) (File, error) {
	var f File

	raw, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return f, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f, nil
}

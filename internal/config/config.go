// Package config loads service settings: embedded defaults, then an
// optional YAML file named by LMRATE_CONFIG_FILE, then LMRATE_*
// environment variables.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const (
	envPrefix         = "LMRATE_"
	maxConfigFileSize = 1024 * 1024
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pathstore PathstoreConfig `koanf:"pathstore"`
	Workers   WorkersConfig   `koanf:"workers"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Scorer    ScorerConfig    `koanf:"scorer"`
	Decoder   DecoderConfig   `koanf:"decoder"`
	Lattice   LatticeConfig   `koanf:"lattice"`
	Parser    ParserConfig    `koanf:"parser"`
}

type ServerConfig struct {
	Port           string `koanf:"port"`
	APIKey         string `koanf:"api_key"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

type PathstoreConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

type WorkersConfig struct {
	Count     int `koanf:"count"`
	QueueSize int `koanf:"queue_size"`
}

type JobsConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// ScorerConfig selects the language model: "lstm" and "ngram" load
// ModelPath, "remote" calls URL.
type ScorerConfig struct {
	Kind        string        `koanf:"kind"`
	ModelPath   string        `koanf:"model_path"`
	URL         string        `koanf:"url"`
	APIKey      string        `koanf:"api_key"`
	StatsWindow time.Duration `koanf:"stats_window"`
}

type DecoderConfig struct {
	AlternativeDecoding  bool    `koanf:"alternative_decoding"`
	BeamWidth            int     `koanf:"beam_width"`
	Clustering           bool    `koanf:"clustering"`
	ClusterDistance      float64 `koanf:"cluster_distance"`
	MaxAlternativeLength int     `koanf:"max_alternative_length"`
}

type LatticeConfig struct {
	Level           string  `koanf:"level"`
	ChoiceLimit     int     `koanf:"choice_limit"`
	ChoiceThreshold float64 `koanf:"choice_threshold"`
	AddSpaceGlyphs  bool    `koanf:"add_space_glyphs"`
}

type ParserConfig struct {
	PDFFallbackPdftotext bool `koanf:"pdf_fallback_pdftotext"`
}

// Load reads the configuration from the environment. LMRATE_CONFIG_FILE,
// when set, names a YAML file applied on top of the defaults.
func Load() (Config, error) {
	return LoadFile(os.Getenv(envPrefix + "CONFIG_FILE"))
}

// LoadFile is Load with an explicit YAML file; an empty path skips it.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// LMRATE_DECODER_BEAM_WIDTH -> decoder.beam_width
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// Validate checks settings shared by the server and the CLI.
func (c Config) Validate() error {
	if _, err := c.DecoderSettings(); err != nil {
		return err
	}
	if _, err := c.LatticeSettings(); err != nil {
		return err
	}
	switch c.Scorer.Kind {
	case "lstm", "ngram":
		if c.Scorer.ModelPath == "" {
			return fmt.Errorf("scorer.model_path is required for %s scorer", c.Scorer.Kind)
		}
	case "remote":
		if c.Scorer.URL == "" {
			return fmt.Errorf("scorer.url is required for remote scorer")
		}
	default:
		return fmt.Errorf("unknown scorer kind %q (want lstm, ngram or remote)", c.Scorer.Kind)
	}
	return nil
}

// ValidateServer additionally checks what the HTTP service needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Pathstore.APIKey == "" {
		return fmt.Errorf("LMRATE_PATHSTORE_API_KEY is required")
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("LMRATE_SERVER_API_KEY is required")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive (got %d)", c.Workers.Count)
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.queue_size must be positive (got %d)", c.Workers.QueueSize)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive (got %d)", c.Server.MaxUploadBytes)
	}
	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("jobs.ttl must be positive (got %s)", c.Jobs.TTL)
	}
	return nil
}

// DecoderSettings converts the decoder section.
func (c Config) DecoderSettings() (decoder.Config, error) {
	dc := decoder.Config{
		BeamWidth:            c.Decoder.BeamWidth,
		Clustering:           c.Decoder.Clustering,
		ClusterDistance:      c.Decoder.ClusterDistance,
		MaxAlternativeLength: c.Decoder.MaxAlternativeLength,
	}
	if err := dc.Validate(); err != nil {
		return decoder.Config{}, err
	}
	return dc, nil
}

// LatticeSettings converts the lattice section.
func (c Config) LatticeSettings() (lattice.Config, error) {
	level, err := doctree.ParseLevel(c.Lattice.Level)
	if err != nil {
		return lattice.Config{}, err
	}
	if c.Lattice.ChoiceLimit < 1 {
		return lattice.Config{}, fmt.Errorf("lattice.choice_limit must be at least 1 (got %d)", c.Lattice.ChoiceLimit)
	}
	if c.Lattice.ChoiceThreshold < 0 {
		return lattice.Config{}, fmt.Errorf("lattice.choice_threshold must not be negative (got %g)", c.Lattice.ChoiceThreshold)
	}
	return lattice.Config{
		Level:           level,
		ChoiceLimit:     c.Lattice.ChoiceLimit,
		ChoiceThreshold: c.Lattice.ChoiceThreshold,
		AddSpaceGlyphs:  c.Lattice.AddSpaceGlyphs,
	}, nil
}

// Package config holds the engine, method cache and unroller settings.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/colorfulnotion/cvm/cvmerrors"
	"gopkg.in/yaml.v2"
)

const (
	ModeToken  = "token"
	ModeDirect = "direct"
)

type EngineConfig struct {
	Mode        string `yaml:"mode"`
	StackWords  uint32 `yaml:"stack_words"`
	ArenaBytes  uint64 `yaml:"arena_bytes"`
	MaxFrames   int    `yaml:"max_frames"`
	ArenaMapped bool   `yaml:"arena_mapped"`
}

type CacheConfig struct {
	PageSize    int `yaml:"page_size"`
	MaxBytes    int `yaml:"max_bytes"`
	NativeBytes int `yaml:"native_bytes"`
	MaxMethods  int `yaml:"max_methods"`
}

type UnrollConfig struct {
	Enabled bool `yaml:"enabled"`
	// Threshold is the invocation count at which a method is unrolled.
	Threshold int `yaml:"threshold"`
	// Arch overrides runtime.GOARCH when choosing a code generator.
	Arch  string   `yaml:"arch"`
	Allow []string `yaml:"allow,omitempty"`
	// MinBlockSpace is the native space that must remain before a block is
	// started or continued.
	MinBlockSpace int `yaml:"min_block_space"`
}

type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Cache  CacheConfig  `yaml:"cache"`
	Unroll UnrollConfig `yaml:"unroll"`
	Log    LogConfig    `yaml:"log"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Modules string `yaml:"modules"`
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:        ModeDirect,
			StackWords:  64 * 1024,
			ArenaBytes:  16 << 20,
			MaxFrames:   4096,
			ArenaMapped: true,
		},
		Cache: CacheConfig{
			PageSize:    64 * 1024,
			MaxBytes:    8 << 20,
			NativeBytes: 4 << 20,
			MaxMethods:  4096,
		},
		Unroll: UnrollConfig{
			Enabled:       false,
			Threshold:     2,
			MinBlockSpace: 512,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse overlays YAML data on the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %v: %w", err, cvmerrors.ErrBadConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), cvmerrors.ErrBadConfig)
	}
	switch c.Engine.Mode {
	case ModeToken, ModeDirect:
	default:
		return bad("engine.mode %q", c.Engine.Mode)
	}
	if c.Engine.StackWords < 256 {
		return bad("engine.stack_words %d < 256", c.Engine.StackWords)
	}
	if c.Engine.ArenaBytes < 1<<16 {
		return bad("engine.arena_bytes %d < 65536", c.Engine.ArenaBytes)
	}
	if c.Engine.MaxFrames <= 0 {
		return bad("engine.max_frames %d", c.Engine.MaxFrames)
	}
	if c.Cache.PageSize < 256 {
		return bad("cache.page_size %d < 256", c.Cache.PageSize)
	}
	if c.Cache.MaxBytes < c.Cache.PageSize {
		return bad("cache.max_bytes %d < page_size %d", c.Cache.MaxBytes, c.Cache.PageSize)
	}
	if c.Cache.NativeBytes < 0 || c.Cache.MaxMethods <= 0 {
		return bad("cache.native_bytes %d max_methods %d", c.Cache.NativeBytes, c.Cache.MaxMethods)
	}
	if c.Unroll.Threshold < 0 {
		return bad("unroll.threshold %d", c.Unroll.Threshold)
	}
	if c.Unroll.MinBlockSpace < 64 {
		return bad("unroll.min_block_space %d < 64", c.Unroll.MinBlockSpace)
	}
	for i, name := range c.Unroll.Allow {
		c.Unroll.Allow[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return nil
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverlay(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  mode: token
cache:
  page_size: 4096
unroll:
  threshold: 10
  allow: [" IADD ", iload]
`))
	require.NoError(t, err)
	assert.Equal(t, ModeToken, cfg.Engine.Mode)
	assert.Equal(t, 4096, cfg.Cache.PageSize)
	assert.Equal(t, 10, cfg.Unroll.Threshold)
	assert.Equal(t, []string{"iadd", "iload"}, cfg.Unroll.Allow)
	// untouched sections keep their defaults
	assert.Equal(t, Default().Cache.MaxMethods, cfg.Cache.MaxMethods)
	assert.False(t, cfg.Unroll.Enabled)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "engine:\n  speed: 3\n",
		"bad mode":     "engine:\n  mode: jit\n",
		"small page":   "cache:\n  page_size: 16\n",
		"max < page":   "cache:\n  page_size: 8192\n  max_bytes: 4096\n",
		"neg thresh":   "unroll:\n  threshold: -1\n",
		"tiny arena":   "engine:\n  arena_bytes: 100\n",
		"not yaml":     "engine: [",
		"block space":  "unroll:\n  min_block_space: 8\n",
		"zero methods": "cache:\n  max_methods: 0\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, cvmerrors.ErrBadConfig), err.Error())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unroll:\n  enabled: true\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Unroll.Enabled)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	cfg := Default()
	back, err := Parse([]byte(cfg.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

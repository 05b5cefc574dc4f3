package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/streamsync/pkg/streamsync/config"
)

// TestNew verifies Config creation from maps.
func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

// TestString verifies string extraction and scalar formatting.
func TestString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		key  string
		want string
	}{
		{"string", map[string]any{"name": "alice"}, "name", "alice"},
		{"empty string", map[string]any{"name": ""}, "name", ""},
		{"int formatted", map[string]any{"name": 5}, "name", "5"},
		{"float formatted", map[string]any{"name": 2.5}, "name", "2.5"},
		{"bool formatted", map[string]any{"name": true}, "name", "true"},
		{"slice rejected", map[string]any{"name": []any{"a"}}, "name", "default"},
		{"map rejected", map[string]any{"name": map[string]any{}}, "name", "default"},
		{"missing", map[string]any{"other": "x"}, "name", "default"},
		{"nil map", nil, "name", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, "default"))
		})
	}
}

// TestDottedPath verifies nested lookup.
func TestDottedPath(t *testing.T) {
	cfg := config.New(map[string]any{
		"scheduler": map[string]any{
			"workers": 8,
			"backoff": map[string]any{"max": "2s"},
		},
		"literal.key": "wins",
		"literal":     map[string]any{"key": "loses"},
	})

	assert.Equal(t, 8, cfg.Int("scheduler.workers", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("scheduler.backoff.max", 0))
	assert.Equal(t, "wins", cfg.String("literal.key", ""))
	assert.True(t, cfg.Has("scheduler.backoff"))
	assert.False(t, cfg.Has("scheduler.missing"))
	assert.False(t, cfg.Has("scheduler.workers.deeper"))
}

// TestInt verifies integer extraction with coercion.
func TestInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"int", 42, 42},
		{"int64", int64(100), 100},
		{"uint64", uint64(7), 7},
		{"float whole", 50.0, 50},
		{"float fractional", 50.5, 99},
		{"string", " 12 ", 12},
		{"bad string", "twelve", 99},
		{"bool", true, 99},
		{"negative", -5, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.val})
			assert.Equal(t, tt.want, cfg.Int("n", 99))
		})
	}
}

// TestFloat verifies float extraction with coercion.
func TestFloat(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want float64
	}{
		{"float", 3.14, 3.14},
		{"int", 42, 42},
		{"int64", int64(2), 2},
		{"string", "1.5", 1.5},
		{"bad string", "x", 9.99},
		{"bool", true, 9.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"f": tt.val})
			assert.InDelta(t, tt.want, cfg.Float("f", 9.99), 1e-9)
		})
	}
}

// TestBool verifies boolean extraction.
func TestBool(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"string true", "true", true},
		{"string 0", "0", false},
		{"bad string", "maybe", true},
		{"int", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"b": tt.val})
			assert.Equal(t, tt.want, cfg.Bool("b", true))
		})
	}
}

// TestDuration verifies duration extraction.
func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "250ms", 250 * time.Millisecond},
		{"complex string", "1h30m", 90 * time.Minute},
		{"int seconds", 60, time.Minute},
		{"int64 seconds", int64(2), 2 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"duration", 3 * time.Second, 3 * time.Second},
		{"invalid", "soon", 10 * time.Second},
		{"bool", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("d", 10*time.Second))
		})
	}
}

// TestBytes verifies humanized size parsing.
func TestBytes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int64
	}{
		{"plain int", 1024, 1024},
		{"int64", int64(5), 5},
		{"SI string", "10 MB", 10_000_000},
		{"IEC string", "64KiB", 65536},
		{"bare number string", "512", 512},
		{"whole float", 2048.0, 2048},
		{"fractional float", 1.5, -1},
		{"invalid", "lots", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"size": tt.val})
			assert.Equal(t, tt.want, cfg.Bytes("size", -1))
		})
	}
}

// TestStringSlice verifies list extraction.
func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"strings": []string{"a", "b"},
		"mixed":   []any{"a", 1, true},
		"nested":  []any{"a", []any{"b"}},
		"scalar":  "a",
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("strings", nil))
	assert.Equal(t, []string{"a", "1", "true"}, cfg.StringSlice("mixed", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("nested", []string{"d"}))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("scalar", []string{"d"}))
	assert.Nil(t, cfg.StringSlice("missing", nil))
}

// TestStringMap verifies property maps are stringified.
func TestStringMap(t *testing.T) {
	cfg := config.New(map[string]any{
		"props": map[string]any{
			"batch.size": 5,
			"content":    "hello",
			"enabled":    false,
		},
		"bad":    map[string]any{"x": []any{1}},
		"scalar": "x",
	})

	assert.Equal(t, map[string]string{
		"batch.size": "5",
		"content":    "hello",
		"enabled":    "false",
	}, cfg.StringMap("props"))
	assert.Nil(t, cfg.StringMap("bad"))
	assert.Nil(t, cfg.StringMap("scalar"))
	assert.Nil(t, cfg.StringMap("missing"))
}

// TestSectionAndList verifies nested navigation.
func TestSectionAndList(t *testing.T) {
	cfg := config.New(map[string]any{
		"scheduler": map[string]any{"workers": 2},
		"processors": []any{
			map[string]any{"name": "a"},
			"skipped",
			map[string]any{"name": "b"},
		},
	})

	assert.Equal(t, 2, cfg.Section("scheduler").Int("workers", 0))
	assert.Empty(t, cfg.Section("missing").Keys())
	assert.Empty(t, cfg.Section("processors").Keys())

	list := cfg.List("processors")
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].String("name", ""))
	assert.Equal(t, "b", list[1].String("name", ""))
	assert.Nil(t, cfg.List("scheduler"))
}

// TestRawIsCopy verifies Raw does not expose the internal map.
func TestRawIsCopy(t *testing.T) {
	cfg := config.New(map[string]any{"a": 1})
	raw := cfg.Raw()
	raw["b"] = 2
	assert.False(t, cfg.Has("b"))
}

// TestFromYAML verifies YAML parsing into nested structures.
func TestFromYAML(t *testing.T) {
	t.Setenv("STREAMSYNC_TEST_HOST", "dict.example.org")

	cfg, err := config.FromYAML([]byte(`
scheduler:
  workers: 3
  poll_interval: 5ms
processors:
  - name: lookup
    properties:
      address: ${STREAMSYNC_TEST_HOST}:2628
      timeout: 2
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Int("scheduler.workers", 0))
	assert.Equal(t, 5*time.Millisecond, cfg.Duration("scheduler.poll_interval", 0))

	procs := cfg.List("processors")
	require.Len(t, procs, 1)
	assert.Equal(t, map[string]string{
		"address": "dict.example.org:2628",
		"timeout": "2",
	}, procs[0].StringMap("properties"))
}

// TestFromYAML_Invalid verifies parse errors are wrapped.
func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte("a: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

// TestFromJSON verifies JSON parsing.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"scheduler":{"workers":4},"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Int("scheduler.workers", 0))

	_, err = config.FromJSON([]byte(`{`))
	assert.ErrorContains(t, err, "parse json")
}

// TestFromFile verifies extension detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "flow.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("a: 1\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Int("a", 0))

	jsonPath := filepath.Join(dir, "flow.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"a":2}`), 0o600))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Int("a", 0))

	txtPath := filepath.Join(dir, "flow.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("a"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

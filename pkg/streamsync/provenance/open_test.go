package provenance_test

import (
	"path/filepath"
	"testing"

	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen verifies backend selection from a DSN string.
func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		dsn     string
		want    any
		wantErr bool
	}{
		{name: "memory", dsn: "memory", want: &provenance.MemoryRepository{}},
		{name: "memory with capacity", dsn: "memory:10", want: &provenance.MemoryRepository{}},
		{name: "sqlite", dsn: "sqlite:" + filepath.Join(dir, "p.db"), want: &provenance.SQLiteRepository{}},
		{name: "bolt", dsn: "bolt:" + filepath.Join(dir, "p.bolt"), want: &provenance.BoltRepository{}},
		{name: "bad capacity", dsn: "memory:lots", wantErr: true},
		{name: "sqlite without path", dsn: "sqlite:", wantErr: true},
		{name: "unknown", dsn: "postgres:db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := provenance.Open(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			assert.IsType(t, tt.want, repo)
		})
	}

	_, err := provenance.Open("kafka:topic")
	assert.ErrorIs(t, err, provenance.ErrUnknownBackend)
}

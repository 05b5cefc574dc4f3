package benchmarks

import (
	"path/filepath"
	"testing"

	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

func sampleEvents(n int) []provenance.Event {
	events := make([]provenance.Event, n)
	for i := range events {
		events[i] = provenance.Event{
			Type:       provenance.EventRoute,
			FlowFileID: "ff-1",
			Processor:  "convert",
			Size:       128,
			Attributes: map[string]string{"temperature.unit": "fahrenheit"},
		}
	}
	return events
}

func benchmarkRecord(b *testing.B, repo provenance.Repository) {
	b.Helper()
	defer repo.Close()
	events := sampleEvents(4)
	b.ReportAllocs()
	for b.Loop() {
		if err := repo.Record(events...); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryRepository_Record measures recording into the ring.
func BenchmarkMemoryRepository_Record(b *testing.B) {
	benchmarkRecord(b, provenance.NewMemoryRepository(0))
}

// BenchmarkSQLiteRepository_Record measures a batched SQLite insert.
func BenchmarkSQLiteRepository_Record(b *testing.B) {
	repo, err := provenance.NewSQLiteRepository(filepath.Join(b.TempDir(), "p.db"))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkRecord(b, repo)
}

// BenchmarkBoltRepository_Record measures a batched bbolt update.
func BenchmarkBoltRepository_Record(b *testing.B) {
	repo, err := provenance.NewBoltRepository(filepath.Join(b.TempDir(), "p.bolt"))
	if err != nil {
		b.Fatal(err)
	}
	benchmarkRecord(b, repo)
}

// BenchmarkMemoryRepository_Lineage measures a lineage scan over a full ring.
func BenchmarkMemoryRepository_Lineage(b *testing.B) {
	repo := provenance.NewMemoryRepository(10000)
	_ = repo.Record(sampleEvents(10000)...)
	for b.Loop() {
		_, _ = repo.Lineage("ff-1")
	}
}

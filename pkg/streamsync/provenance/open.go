package provenance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown provenance backend")

// Open creates a Repository from a "backend:argument" string:
//
//	memory            in-memory ring with DefaultMemoryCapacity
//	memory:5000       in-memory ring with the given capacity
//	sqlite:prov.db    SQLite database file
//	bolt:prov.bolt    bbolt database file
func Open(dsn string) (Repository, error) {
	backend, arg, _ := strings.Cut(strings.TrimSpace(dsn), ":")
	switch strings.ToLower(backend) {
	case "memory", "mem":
		capacity := 0
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("memory capacity %q: %w", arg, err)
			}
			capacity = n
		}
		return NewMemoryRepository(capacity), nil
	case "sqlite":
		if arg == "" {
			return nil, errors.New("sqlite provenance requires a path")
		}
		return NewSQLiteRepository(arg)
	case "bolt", "bbolt":
		if arg == "" {
			return nil, errors.New("bolt provenance requires a path")
		}
		return NewBoltRepository(arg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"siskin/pkg/heap"
)

// Limits sizes the pools and arenas a context reserves up front. Every pool
// is addressed by 16-bit refs, so record counts are capped accordingly.
type Limits struct {
	Objects     int `toml:"objects"`
	Properties  int `toml:"properties"`
	Pairs       int `toml:"accessor_pairs"`
	Numbers     int `toml:"numbers"`
	Strings     int `toml:"strings"`
	Collections int `toml:"collections"`
	CodeArena   int `toml:"code_arena_bytes"`
	LookupCache int `toml:"lookup_cache_entries"`
}

// Default is the stock sizing for an embedded context.
func Default() Limits {
	return Limits{
		Objects:     4096,
		Properties:  16384,
		Pairs:       1024,
		Numbers:     8192,
		Strings:     4096,
		Collections: 1024,
		CodeArena:   128 << 10,
		LookupCache: 512,
	}
}

// Load reads a TOML limits file. Keys absent from the file keep their
// default values.
func Load(path string) (Limits, error) {
	lim := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return lim, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(data, &lim); err != nil {
		return lim, errors.Wrap(err, "parse config")
	}
	if err := lim.Validate(); err != nil {
		return lim, errors.Wrap(err, path)
	}
	return lim, nil
}

// Validate rejects sizes the 16-bit reference space cannot address.
func (l Limits) Validate() error {
	pools := []struct {
		name string
		v    int
	}{
		{"objects", l.Objects},
		{"properties", l.Properties},
		{"accessor_pairs", l.Pairs},
		{"numbers", l.Numbers},
		{"strings", l.Strings},
		{"collections", l.Collections},
	}
	for _, p := range pools {
		if p.v <= 0 || p.v > heap.MaxRecords {
			return errors.Errorf("%s: %d out of range (1..%d)", p.name, p.v, heap.MaxRecords)
		}
	}
	if l.CodeArena <= 0 || l.CodeArena > heap.MaxArenaBytes {
		return errors.Errorf("code_arena_bytes: %d out of range (1..%d)", l.CodeArena, heap.MaxArenaBytes)
	}
	if l.LookupCache <= 0 || l.LookupCache > heap.MaxRecords {
		return errors.Errorf("lookup_cache_entries: %d out of range (1..%d)", l.LookupCache, heap.MaxRecords)
	}
	return nil
}

// Package metastore provides lookups of asset metadata records by repository path.
//
// A record is the flat property bag stored for an asset, for example
// /content/dam/site/hero.jpg/jcr:content/metadata. Backends:
//   - [Map]: in-memory, used for seeds, the CLI and tests
//   - [S3Store]: one JSON object per record in S3
//   - [SQLStore]: a SQLite table managed by embedded migrations
//
// [Limited] and [Instrumented] wrap any [Store] with a lookup budget and
// tracing/metrics respectively. [LoadFile] builds a [Map] from a YAML document.
package metastore

import "context"

// Record is a flat metadata property bag. Absent properties are absent keys.
type Record map[string]string

// Store looks up the record stored under key.
// found=false with a nil error means the record does not exist.
type Store interface {
	Lookup(ctx context.Context, key string) (rec Record, found bool, err error)
}

// clone returns a copy so callers cannot mutate backing data.
func (r Record) clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

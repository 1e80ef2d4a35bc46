// Package accessor reads versioned storage items and decodes events at a
// given block, picking the encoding in effect at that block.
package accessor

import (
	"github.com/oasisprotocol/chainview/registry"
)

const moduleName = "accessor"

const (
	defaultBatchSize      = 256
	defaultPageSize       = 1000
	defaultMaxConcurrency = 4
)

// Entry is one decoded result. Absent entries have Present=false and a nil
// Value.
type Entry struct {
	Key registry.KeyTuple
	// StorageKey is the full raw storage key; nil for events.
	StorageKey []byte
	Value      any
	// Present reports that bytes were found for the entry, whether or not
	// they decoded. An entry that failed to decode has Present=true, a nil
	// Value and a non-nil Err.
	Present bool
	// Err is the entry's own failure: a *dispatch.DecodeError, or for events
	// a version resolution error (with Present=false).
	Err error
}

// Options tunes how multi-key reads are split into node queries.
type Options struct {
	// BatchSize is the maximum number of keys per node query.
	BatchSize int
	// PageSize is the number of keys per enumeration page in GetAll.
	PageSize uint32
	// MaxConcurrency bounds the node queries in flight for one call.
	MaxConcurrency int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	return o
}

// As returns v as a T. The second result is false if v is nil or of another type.
func As[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

// Package dispatch decodes raw item bytes with the decoder selected by the
// version gate, attributing failures to individual entries.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// ErrDecodeFailure matches every *DecodeError.
var ErrDecodeFailure = errors.New("decode failure")

// ErrUnknownDecoder is wrapped by a DecodeError when the codec has no decoder
// with the requested id.
var ErrUnknownDecoder = errors.New("unknown decoder")

// Codec turns raw bytes into values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Decode(decoder registry.DecoderID, raw []byte) (any, error)
}

// DecodeError reports a failure to decode one entry.
type DecodeError struct {
	Item    registry.ItemIdentity
	Decoder registry.DecoderID
	// Key is the raw storage key of the entry; nil for single values and events.
	Key []byte
	Err error
}

func (e *DecodeError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("decoding %s (key 0x%x) with %s: %v", e.Item, e.Key, e.Decoder, e.Err)
	}
	return fmt.Sprintf("decoding %s with %s: %v", e.Item, e.Decoder, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}

// Decoded is the result for one raw entry. Err is a *DecodeError.
type Decoded struct {
	Key     []byte
	Value   any
	Present bool
	Err     error
}

type Dispatcher struct {
	codec   Codec
	metrics metrics.AccessorMetrics
}

func New(codec Codec) *Dispatcher {
	return &Dispatcher{
		codec:   codec,
		metrics: metrics.NewDefaultAccessorMetrics("chainview"),
	}
}

// Decode decodes a single value. Codec panics are recovered into a *DecodeError.
func (d *Dispatcher) Decode(item registry.ItemIdentity, decoder registry.DecoderID, key []byte, raw []byte) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("codec panicked: %v", r)
		}
		if err != nil {
			value = nil
			d.metrics.DecodeFailures(item.String(), string(decoder)).Inc()
			err = &DecodeError{Item: item, Decoder: decoder, Key: key, Err: err}
		}
	}()
	return d.codec.Decode(decoder, raw)
}

// DecodeMany decodes `entries` in order. The result has the same length and
// order as the input; absent entries are passed through undecoded, and a
// failure only affects its own slot.
func (d *Dispatcher) DecodeMany(item registry.ItemIdentity, decoder registry.DecoderID, entries []nodeapi.RawEntry) []Decoded {
	out := make([]Decoded, len(entries))
	for i, e := range entries {
		out[i] = Decoded{Key: e.Key, Present: e.Present}
		if !e.Present {
			continue
		}
		out[i].Value, out[i].Err = d.Decode(item, decoder, e.Key, e.Value)
	}
	return out
}

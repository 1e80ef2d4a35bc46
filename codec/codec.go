// Package codec implements the SCALE decoders referenced by registry
// declarations, and the encoding of storage map key parts.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	gsrpcCodec "github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"

	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/registry"
)

// ErrTrailingBytes is returned when a value decodes without consuming all input.
var ErrTrailingBytes = errors.New("trailing bytes after value")

// DecodeFunc decodes one raw value.
type DecodeFunc func(raw []byte) (any, error)

// Codec is a table of decoders by id. It is read-only after construction and
// safe for concurrent use.
type Codec struct {
	decoders map[registry.DecoderID]DecodeFunc
}

var _ dispatch.Codec = (*Codec)(nil)

func New() *Codec {
	return &Codec{decoders: map[registry.DecoderID]DecodeFunc{}}
}

// Register adds a decoder. Must not be called concurrently with Decode.
func (c *Codec) Register(id registry.DecoderID, fn DecodeFunc) error {
	if _, ok := c.decoders[id]; ok {
		return fmt.Errorf("decoder %s already registered", id)
	}
	c.decoders[id] = fn
	return nil
}

// MustRegister is Register that panics on error. For static tables only.
func (c *Codec) MustRegister(id registry.DecoderID, fn DecodeFunc) *Codec {
	if err := c.Register(id, fn); err != nil {
		panic(err)
	}
	return c
}

// Decode implements dispatch.Codec.
func (c *Codec) Decode(id registry.DecoderID, raw []byte) (any, error) {
	fn, ok := c.decoders[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, dispatch.ErrUnknownDecoder)
	}
	return fn(raw)
}

// Check returns an error naming every id in `ids` that has no decoder.
func (c *Codec) Check(ids ...registry.DecoderID) error {
	var missing []string
	for _, id := range ids {
		if _, ok := c.decoders[id]; !ok {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%v: %w", missing, dispatch.ErrUnknownDecoder)
	}
	return nil
}

// DecodeStrict decodes `raw` into `target` and requires all input to be consumed.
func DecodeStrict(raw []byte, target interface{}) error {
	r := bytes.NewReader(raw)
	if err := scale.NewDecoder(r).Decode(target); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d bytes left: %w", r.Len(), ErrTrailingBytes)
	}
	return nil
}

// Scale returns a DecodeFunc that strictly decodes a T.
func Scale[T any]() DecodeFunc {
	return func(raw []byte) (any, error) {
		var v T
		if err := DecodeStrict(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding %T: %w", v, err)
		}
		return v, nil
	}
}

// Encode SCALE-encodes a value.
func Encode(v interface{}) ([]byte, error) {
	return gsrpcCodec.Encode(v)
}

package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

// MiddlewareConfig configures the middleware installed by Router.
type MiddlewareConfig struct {
	Metrics metrics.RequestMetrics
	// RequestTimeout bounds every request; zero disables it.
	RequestTimeout time.Duration
}

type Block struct {
	Height uint64 `json:"height,omitempty"`
	Hash   string `json:"hash"`
}

func NewBlock(b nodeapi.BlockRef) Block {
	return Block{Height: b.Height, Hash: b.Hash}
}

type ValueResponse struct {
	Block   Block  `json:"block"`
	Item    string `json:"item"`
	Present bool   `json:"present"`
	Value   any    `json:"value,omitempty"`
}

type ExistsResponse struct {
	Block  Block  `json:"block"`
	Item   string `json:"item"`
	Exists bool   `json:"exists"`
}

// ManyRequest lists keys to read; each key is a list of SCALE-encoded parts.
type ManyRequest struct {
	Keys [][]hexutil.Bytes `json:"keys"`
}

type Entry struct {
	// Key is omitted for entries found by enumeration.
	Key        []hexutil.Bytes `json:"key,omitempty"`
	StorageKey hexutil.Bytes   `json:"storage_key,omitempty"`
	Present    bool            `json:"present"`
	Value      any             `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type EntriesResponse struct {
	Block   Block   `json:"block"`
	Item    string  `json:"item"`
	Entries []Entry `json:"entries"`
	// Next is the cursor of the following page; unset on the last page and
	// for unpaginated reads.
	Next hexutil.Bytes `json:"next,omitempty"`
}

// NewEntriesResponse renders accessor entries for JSON output.
func NewEntriesResponse(block nodeapi.BlockRef, item registry.ItemIdentity, entries []accessor.Entry) EntriesResponse {
	resp := EntriesResponse{
		Block:   NewBlock(block),
		Item:    item.String(),
		Entries: make([]Entry, len(entries)),
	}
	for i, e := range entries {
		out := Entry{
			StorageKey: e.StorageKey,
			Present:    e.Present,
			Value:      e.Value,
		}
		for _, part := range e.Key {
			if raw, ok := part.(codec.RawKey); ok {
				out.Key = append(out.Key, hexutil.Bytes(raw))
			}
		}
		if e.Err != nil {
			out.Error = e.Err.Error()
		}
		resp.Entries[i] = out
	}
	return resp
}

// EventsRequest carries the raw payloads of occurrences of one event kind.
type EventsRequest struct {
	Data []hexutil.Bytes `json:"data"`
}

type EventEntry struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type EventsResponse struct {
	Block  Block        `json:"block"`
	Item   string       `json:"item"`
	Events []EventEntry `json:"events"`
}

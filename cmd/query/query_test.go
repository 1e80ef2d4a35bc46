package query

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/api"
	cmdCommon "github.com/oasisprotocol/chainview/cmd/common"
	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/resolver"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
	"github.com/oasisprotocol/chainview/storage/nodeapi/testutil"
)

var (
	erasStakers = registry.ItemSchema{
		Item:    registry.ItemIdentity{Section: "Staking", Name: "ErasStakers"},
		Kind:    registry.KindStorage,
		Hashers: []registry.Hasher{registry.HasherTwox64Concat, registry.HasherTwox64Concat},
	}
	transfer = registry.ItemSchema{
		Item: registry.ItemIdentity{Section: "Balances", Name: "Transfer"},
		Kind: registry.KindEvent,
	}
)

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func hexArg(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func newQuerier(t *testing.T) (*querier, *bytes.Buffer) {
	reg, err := registry.NewBuilder().
		Declare(erasStakers).
		Declare(transfer).
		Register(erasStakers.Item, "es1", "u32").
		Register(transfer.Item, "ev1", "u32").
		Build()
	require.NoError(t, err)

	key, err := accessor.StorageKey(erasStakers, codec.Default(), registry.KeyTuple{uint32(1), uint32(2)})
	require.NoError(t, err)
	node := testutil.NewMemoryNode(&testutil.MemoryBlock{
		Height:     10,
		Hash:       "0x0a",
		TypeHashes: map[string]string{"Staking.ErasStakers": "es1", "Balances.Transfer": "ev1"},
		Storage:    map[string][]byte{string(key): u32(12)},
	})

	logger := log.NewDefaultLogger("unit-test")
	res, err := resolver.New(node, 16, logger)
	require.NoError(t, err)
	g := gate.New(reg, res)
	d := dispatch.New(codec.Default())

	var out bytes.Buffer
	return &querier{
		source: &cmdCommon.Source{
			Node:     node,
			Registry: reg,
			Storage:  accessor.NewStorageAccessor(g, d, node, codec.Default(), accessor.Options{}, logger),
			Events:   accessor.NewEventAccessor(g, d),
		},
		out: &out,
	}, &out
}

func TestQueryGetByHeight(t *testing.T) {
	q, out := newQuerier(t)

	err := q.get(context.Background(), []string{"10", "Staking.ErasStakers", hexArg(u32(1)), hexArg(u32(2))})
	require.NoError(t, err)

	var resp struct {
		Block   api.Block `json:"block"`
		Present bool      `json:"present"`
		Value   uint32    `json:"value"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Equal(t, api.Block{Height: 10, Hash: "0x0a"}, resp.Block)
	require.True(t, resp.Present)
	require.Equal(t, uint32(12), resp.Value)
}

func TestQueryGetMany(t *testing.T) {
	q, out := newQuerier(t)

	err := q.getMany(context.Background(), []string{
		"0x0a", "Staking.ErasStakers",
		hexArg(u32(1)) + "," + hexArg(u32(2)),
		hexArg(u32(2)) + "," + hexArg(u32(1)),
	})
	require.NoError(t, err)

	var resp struct {
		Entries []struct {
			Present bool `json:"present"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	require.True(t, resp.Entries[0].Present)
	require.False(t, resp.Entries[1].Present)
}

func TestQueryKeyArity(t *testing.T) {
	q, _ := newQuerier(t)

	err := q.get(context.Background(), []string{"10", "Staking.ErasStakers", hexArg(u32(1))})
	require.ErrorIs(t, err, registry.ErrKeyArity)
}

func TestQueryExistsAndAll(t *testing.T) {
	q, out := newQuerier(t)
	ctx := context.Background()

	require.NoError(t, q.exists(ctx, []string{"10", "Staking.ErasStakers"}))
	var exists api.ExistsResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &exists))
	require.True(t, exists.Exists)

	out.Reset()
	require.NoError(t, q.getAll(ctx, []string{"10", "Staking.ErasStakers"}))
	var all struct {
		Entries []struct {
			Value uint32 `json:"value"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &all))
	require.Len(t, all.Entries, 1)
	require.Equal(t, uint32(12), all.Entries[0].Value)
}

func TestQueryDecodeEvents(t *testing.T) {
	q, out := newQuerier(t)

	err := q.decodeEvents(context.Background(), []string{"10", "Balances.Transfer", hexArg(u32(3)), "0x01"})
	require.NoError(t, err)

	var resp api.EventsResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	require.InDelta(t, 3.0, resp.Events[0].Value, 0)
	require.NotEmpty(t, resp.Events[1].Error)
}

func TestQueryBadInput(t *testing.T) {
	q, _ := newQuerier(t)
	ctx := context.Background()

	require.ErrorIs(t, q.exists(ctx, []string{"tip", "Staking.ErasStakers"}), nodeapi.ErrInvalidBlockRef)
	require.Error(t, q.exists(ctx, []string{"10", "ErasStakers"}))
	require.ErrorIs(t, q.exists(ctx, []string{"11", "Staking.ErasStakers"}), nodeapi.ErrBlockNotFound)
	require.Error(t, q.decodeEvents(ctx, []string{"10", "Balances.Transfer", "zz"}))
}

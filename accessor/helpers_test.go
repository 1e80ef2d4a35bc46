package accessor

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/resolver"
	"github.com/oasisprotocol/chainview/storage/nodeapi/testutil"
)

var (
	totalIssuance = registry.ItemIdentity{Section: "Balances", Name: "TotalIssuance"}
	systemAccount = registry.ItemIdentity{Section: "System", Name: "Account"}
	erasStakers   = registry.ItemIdentity{Section: "Staking", Name: "ErasStakers"}
	transfer      = registry.ItemIdentity{Section: "Balances", Name: "Transfer"}

	schemas = []registry.ItemSchema{
		{Item: totalIssuance, Kind: registry.KindStorage},
		{Item: systemAccount, Kind: registry.KindStorage, Hashers: []registry.Hasher{registry.HasherBlake2_128Concat}},
		{Item: erasStakers, Kind: registry.KindStorage, Hashers: []registry.Hasher{registry.HasherTwox64Concat, registry.HasherTwox64Concat}},
		{Item: transfer, Kind: registry.KindEvent},
	}
)

// Account keys used across tests. k2 is never stored; k0 holds a zero value
// and kBad holds bytes that are not a valid u32.
var k0, k1, k2, k3, kBad = account(0xa0), account(0xa1), account(0xa2), account(0xa3), account(0xaf)

func account(b byte) registry.KeyTuple {
	var id codec.AccountID
	id[0] = b
	return registry.KeyTuple{id}
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func u64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// recordingCodec counts decoder invocations.
type recordingCodec struct {
	inner *codec.Codec

	mu    sync.Mutex
	calls map[registry.DecoderID]int
}

func (c *recordingCodec) Decode(id registry.DecoderID, raw []byte) (any, error) {
	c.mu.Lock()
	c.calls[id]++
	c.mu.Unlock()
	return c.inner.Decode(id, raw)
}

func (c *recordingCodec) Calls(id registry.DecoderID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *recordingCodec) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, v := range c.calls {
		n += v
	}
	return n
}

type testEnv struct {
	node     *testutil.MemoryNode
	codec    *recordingCodec
	storage  *StorageAccessor
	events   *EventAccessor
	registry *registry.Registry
}

func storageKey(t *testing.T, item registry.ItemIdentity, key registry.KeyTuple) string {
	for _, s := range schemas {
		if s.Item == item {
			k, err := StorageKey(s, codec.Default(), key)
			require.NoError(t, err)
			return string(k)
		}
	}
	t.Fatalf("no schema for %s", item)
	return ""
}

// newTestEnv builds the full read stack over three blocks:
//
//	height 1: TotalIssuance=H1 (u64), accounts, stakers and transfers
//	height 2: TotalIssuance=H3, a hash no decoder is registered for
//	height 3: TotalIssuance=H2 (u128); System.Account and Balances.Transfer do not exist
func newTestEnv(t *testing.T, opts Options) *testEnv {
	b := registry.NewBuilder()
	for _, s := range schemas {
		b.Declare(s)
	}
	reg, err := b.
		Register(totalIssuance, "H1", "u64").
		Register(totalIssuance, "H2", "u128").
		Register(systemAccount, "acc1", "u32").
		Register(erasStakers, "es1", "u32").
		Register(transfer, "ev1", "balances.transfer.v2").
		Build()
	require.NoError(t, err)

	u128 := make([]byte, 16)
	u128[0] = 0x07
	node := testutil.NewMemoryNode(
		&testutil.MemoryBlock{
			Height: 1,
			Hash:   "0x01",
			TypeHashes: map[string]string{
				"Balances.TotalIssuance": "H1",
				"System.Account":         "acc1",
				"Staking.ErasStakers":    "es1",
				"Balances.Transfer":      "ev1",
			},
			Storage: map[string][]byte{
				storageKey(t, totalIssuance, nil):                            u64(1000),
				storageKey(t, systemAccount, k0):                             u32(0),
				storageKey(t, systemAccount, k1):                             u32(1),
				storageKey(t, systemAccount, k3):                             u32(3),
				storageKey(t, systemAccount, kBad):                           {0xff, 0xff},
				storageKey(t, erasStakers, registry.KeyTuple{uint32(1), uint32(2)}): u32(12),
				storageKey(t, erasStakers, registry.KeyTuple{uint32(2), uint32(1)}): u32(21),
			},
		},
		&testutil.MemoryBlock{
			Height:     2,
			Hash:       "0x02",
			TypeHashes: map[string]string{"Balances.TotalIssuance": "H3"},
			Storage: map[string][]byte{
				storageKey(t, totalIssuance, nil): u64(2000),
			},
		},
		&testutil.MemoryBlock{
			Height:     3,
			Hash:       "0x03",
			TypeHashes: map[string]string{"Balances.TotalIssuance": "H2"},
			Storage: map[string][]byte{
				storageKey(t, totalIssuance, nil): u128,
			},
		},
	)

	logger := log.NewDefaultLogger("unit-test")
	res, err := resolver.New(node, 1024, logger)
	require.NoError(t, err)
	g := gate.New(reg, res)
	rc := &recordingCodec{inner: codec.Default(), calls: map[registry.DecoderID]int{}}
	d := dispatch.New(rc)

	return &testEnv{
		node:     node,
		codec:    rc,
		storage:  NewStorageAccessor(g, d, node, codec.Default(), opts, logger),
		events:   NewEventAccessor(g, d),
		registry: reg,
	}
}

package rpc

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const testBlockHash = "0xb10c"

var testBlock = nodeapi.BlockRef{Height: 10, Hash: testBlockHash}

// fakeState serves the `state_*` namespace from an in-memory map.
type fakeState struct {
	storage map[string][]byte
}

func (s *fakeState) GetStorage(key hexutil.Bytes, hash string) (*hexutil.Bytes, error) {
	v, ok := s.storage[string(key)]
	if !ok {
		return nil, nil
	}
	b := hexutil.Bytes(v)
	return &b, nil
}

func (s *fakeState) QueryStorageAt(keys []hexutil.Bytes, hash string) ([]changeSet, error) {
	set := changeSet{Block: hash}
	// Reverse order, so callers cannot rely on positions.
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		change := [2]*hexutil.Bytes{&k, nil}
		if v, ok := s.storage[string(k)]; ok {
			b := hexutil.Bytes(v)
			change[1] = &b
		}
		set.Changes = append(set.Changes, change)
	}
	return []changeSet{set}, nil
}

func (s *fakeState) GetKeysPaged(prefix hexutil.Bytes, count uint32, start *hexutil.Bytes, hash string) ([]hexutil.Bytes, error) {
	var keys []string
	for k := range s.storage {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if start != nil && bytes.Compare([]byte(k), *start) <= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if uint32(len(keys)) > count {
		keys = keys[:count]
	}
	out := make([]hexutil.Bytes, len(keys))
	for i, k := range keys {
		out[i] = hexutil.Bytes(k)
	}
	return out, nil
}

func (s *fakeState) GetRuntimeVersion(hash string) (nodeapi.RuntimeVersion, error) {
	return nodeapi.RuntimeVersion{SpecName: "test", SpecVersion: 9430}, nil
}

type fakeChain struct{}

func (fakeChain) GetBlockHash(height uint64) (*string, error) {
	if height > 100 {
		return nil, nil
	}
	h := testBlockHash
	return &h, nil
}

func newTestApi(t *testing.T, storage map[string][]byte) *SubstrateApiLite {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("state", &fakeState{storage: storage}))
	require.NoError(t, server.RegisterName("chain", fakeChain{}))
	t.Cleanup(server.Stop)

	api := NewSubstrateApiLiteFromClient(rpc.DialInProc(server), log.NewDefaultLogger("unit-test"))
	t.Cleanup(func() { _ = api.Close() })
	return api
}

func TestGetBlockHash(t *testing.T) {
	api := newTestApi(t, nil)

	hash, err := api.GetBlockHash(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, testBlockHash, hash)

	_, err = api.GetBlockHash(context.Background(), 1000)
	require.ErrorIs(t, err, nodeapi.ErrBlockNotFound)
}

func TestGetRuntimeVersion(t *testing.T) {
	api := newTestApi(t, nil)

	version, err := api.GetRuntimeVersion(context.Background(), testBlockHash)
	require.NoError(t, err)
	require.Equal(t, uint32(9430), version.SpecVersion)
	require.Equal(t, "test", version.SpecName)
}

func TestFetchStorageRawAbsenceVsEmpty(t *testing.T) {
	api := newTestApi(t, map[string][]byte{
		"\x01empty": {},
		"\x01value": {0x2a},
	})
	ctx := context.Background()

	v, ok, err := api.FetchStorageRaw(ctx, testBlock, []byte("\x01value"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x2a}, v)

	_, ok, err = api.FetchStorageRaw(ctx, testBlock, []byte("\x01empty"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = api.FetchStorageRaw(ctx, testBlock, []byte("\x01missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetchStorageRawMany(t *testing.T) {
	api := newTestApi(t, map[string][]byte{
		"\x01a": {0x01},
		"\x01b": {0x02},
	})

	entries, err := api.FetchStorageRawMany(context.Background(), testBlock, [][]byte{[]byte("\x01a"), []byte("\x01b"), []byte("\x01c")})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byKey := map[string]nodeapi.RawEntry{}
	for _, e := range entries {
		byKey[string(e.Key)] = e
	}
	require.Equal(t, []byte{0x01}, byKey["\x01a"].Value)
	require.True(t, byKey["\x01b"].Present)
	require.False(t, byKey["\x01c"].Present)

	entries, err = api.FetchStorageRawMany(context.Background(), testBlock, nil)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchStorageKeysPage(t *testing.T) {
	api := newTestApi(t, map[string][]byte{
		"\x01a":  {0x01},
		"\x01b":  {0x02},
		"\x01c":  {0x03},
		"\x02zz": {0xff},
	})
	ctx := context.Background()

	page, next, err := api.FetchStorageKeysPage(ctx, testBlock, []byte{0x01}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, []byte("\x01a"), page[0].Key)
	require.Equal(t, []byte("\x01b"), page[1].Key)
	require.Equal(t, []byte("\x01b"), next)

	page, next, err = api.FetchStorageKeysPage(ctx, testBlock, []byte{0x01}, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, []byte{0x03}, page[0].Value)
	require.Nil(t, next)
}

package api

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/dispatch"
	"github.com/oasisprotocol/chainview/gate"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/metrics"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/resolver"
	"github.com/oasisprotocol/chainview/storage/nodeapi/testutil"
)

var (
	totalIssuance = registry.ItemIdentity{Section: "Balances", Name: "TotalIssuance"}
	systemAccount = registry.ItemIdentity{Section: "System", Name: "Account"}
	transfer      = registry.ItemIdentity{Section: "Balances", Name: "Transfer"}

	schemas = []registry.ItemSchema{
		{Item: totalIssuance, Kind: registry.KindStorage},
		{Item: systemAccount, Kind: registry.KindStorage, Hashers: []registry.Hasher{registry.HasherBlake2_128Concat}},
		{Item: transfer, Kind: registry.KindEvent},
	}
)

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func accountKey(b byte) []byte {
	k := make([]byte, 32)
	k[0] = b
	return k
}

func hexKey(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func storageKey(t *testing.T, schema registry.ItemSchema, parts ...[]byte) string {
	key := registry.KeyTuple{}
	for _, p := range parts {
		key = append(key, codec.RawKey(p))
	}
	k, err := accessor.StorageKey(schema, codec.Default(), key)
	require.NoError(t, err)
	return string(k)
}

type testServer struct {
	node    *testutil.MemoryNode
	handler http.Handler
}

// newTestServer serves two blocks:
//
//	height 1: TotalIssuance=1000, accounts 0xa1=1 and 0xa2=2, transfers
//	height 2: TotalIssuance with an unregistered type hash
func newTestServer(t *testing.T, timeout time.Duration) *testServer {
	b := registry.NewBuilder()
	for _, s := range schemas {
		b.Declare(s)
	}
	reg, err := b.
		Register(totalIssuance, "H1", "u32").
		Register(systemAccount, "acc1", "u32").
		Register(transfer, "ev1", "u32").
		Build()
	require.NoError(t, err)

	node := testutil.NewMemoryNode(
		&testutil.MemoryBlock{
			Height: 1,
			Hash:   "0x01",
			TypeHashes: map[string]string{
				"Balances.TotalIssuance": "H1",
				"System.Account":         "acc1",
				"Balances.Transfer":      "ev1",
			},
			Storage: map[string][]byte{
				storageKey(t, schemas[0]):                   u32(1000),
				storageKey(t, schemas[1], accountKey(0xa1)): u32(1),
				storageKey(t, schemas[1], accountKey(0xa2)): u32(2),
			},
		},
		&testutil.MemoryBlock{
			Height:     2,
			Hash:       "0x02",
			TypeHashes: map[string]string{"Balances.TotalIssuance": "H9"},
			Storage: map[string][]byte{
				storageKey(t, schemas[0]): u32(2000),
			},
		},
	)

	logger := log.NewDefaultLogger("unit-test")
	res, err := resolver.New(node, 128, logger)
	require.NoError(t, err)
	g := gate.New(reg, res)
	d := dispatch.New(codec.Default())
	api := NewChainviewAPI(
		accessor.NewStorageAccessor(g, d, node, codec.Default(), accessor.Options{}, logger),
		accessor.NewEventAccessor(g, d),
		node,
		logger,
	)
	return &testServer{
		node: node,
		handler: api.Router(MiddlewareConfig{
			Metrics:        metrics.NewDefaultRequestMetrics("api_test"),
			RequestTimeout: timeout,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type testValueResponse struct {
	Block   Block           `json:"block"`
	Item    string          `json:"item"`
	Present bool            `json:"present"`
	Value   json.RawMessage `json:"value"`
}

type testEntry struct {
	Key        []string        `json:"key"`
	StorageKey string          `json:"storage_key"`
	Present    bool            `json:"present"`
	Value      json.RawMessage `json:"value"`
	Error      string          `json:"error"`
}

func TestGetPlainValue(t *testing.T) {
	s := newTestServer(t, 0)

	for _, block := range []string{"1", "0x01"} {
		rec := s.do(t, http.MethodGet, "/v1/blocks/"+block+"/storage/Balances/TotalIssuance", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[testValueResponse](t, rec)
		require.True(t, resp.Present)
		require.Equal(t, "Balances.TotalIssuance", resp.Item)
		require.Equal(t, "0x01", resp.Block.Hash)
		require.JSONEq(t, "1000", string(resp.Value))
	}
}

func TestGetMapValue(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/v1/blocks/1/storage/System/Account?key="+hexKey(accountKey(0xa1)), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[testValueResponse](t, rec)
	require.True(t, resp.Present)
	require.JSONEq(t, "1", string(resp.Value))

	// Missing keys are absent, not errors.
	rec = s.do(t, http.MethodGet, "/v1/blocks/1/storage/System/Account?key="+hexKey(accountKey(0xa3)), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[testValueResponse](t, rec)
	require.False(t, resp.Present)
	require.Empty(t, resp.Value)
}

func TestExists(t *testing.T) {
	s := newTestServer(t, 0)

	for _, tc := range []struct {
		path   string
		exists bool
	}{
		{"/v1/blocks/1/storage/System/Account/exists", true},
		{"/v1/blocks/2/storage/System/Account/exists", false},
		// Present but undecodable counts as not existing.
		{"/v1/blocks/2/storage/Balances/TotalIssuance/exists", false},
	} {
		rec := s.do(t, http.MethodGet, tc.path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, tc.exists, decode[ExistsResponse](t, rec).Exists, tc.path)
	}
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, 0)

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"unknown item", http.MethodGet, "/v1/blocks/1/storage/Foo/Bar", nil, http.StatusNotFound},
		{"unsupported version", http.MethodGet, "/v1/blocks/2/storage/Balances/TotalIssuance", nil, http.StatusUnprocessableEntity},
		{"bad block", http.MethodGet, "/v1/blocks/latest/storage/Balances/TotalIssuance", nil, http.StatusBadRequest},
		{"bad block hash", http.MethodGet, "/v1/blocks/0xzz/storage/Balances/TotalIssuance", nil, http.StatusBadRequest},
		{"unknown height", http.MethodGet, "/v1/blocks/99/storage/Balances/TotalIssuance", nil, http.StatusNotFound},
		{"missing key", http.MethodGet, "/v1/blocks/1/storage/System/Account", nil, http.StatusBadRequest},
		{"bad key", http.MethodGet, "/v1/blocks/1/storage/System/Account?key=a1", nil, http.StatusBadRequest},
		{"event read as storage", http.MethodGet, "/v1/blocks/1/storage/Balances/Transfer", nil, http.StatusBadRequest},
		{"event not present", http.MethodPost, "/v1/blocks/2/events/Balances/Transfer", EventsRequest{}, http.StatusOK},
		{"bad body", http.MethodPost, "/v1/blocks/1/storage/System/Account/many", map[string]any{"nope": 1}, http.StatusBadRequest},
		{"no route", http.MethodGet, "/v2/whatever", nil, http.StatusNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			if tc.code != http.StatusOK {
				require.NotEmpty(t, decode[HumanReadableError](t, rec).Msg)
			}
		})
	}
}

func TestPostMany(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/blocks/1/storage/System/Account/many", map[string]any{
		"keys": [][]string{
			{hexKey(accountKey(0xa2))},
			{hexKey(accountKey(0xa3))},
			{hexKey(accountKey(0xa1))},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Entries []testEntry `json:"entries"`
	}](t, rec)

	require.Len(t, resp.Entries, 3)
	require.Equal(t, []string{hexKey(accountKey(0xa2))}, resp.Entries[0].Key)
	require.JSONEq(t, "2", string(resp.Entries[0].Value))
	require.False(t, resp.Entries[1].Present)
	require.Empty(t, resp.Entries[1].Value)
	require.True(t, resp.Entries[2].Present)
	require.JSONEq(t, "1", string(resp.Entries[2].Value))
	for _, e := range resp.Entries {
		require.NotEmpty(t, e.StorageKey)
		require.Empty(t, e.Error)
	}
}

func TestGetAll(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/v1/blocks/1/storage/System/Account/all", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Entries []testEntry `json:"entries"`
	}](t, rec)

	require.Len(t, resp.Entries, 2)
	values := map[string]bool{}
	for _, e := range resp.Entries {
		require.True(t, e.Present)
		require.Empty(t, e.Key)
		require.Equal(t, accessor.ItemPrefix(systemAccount), mustDecodeHex(t, e.StorageKey)[:32])
		values[string(e.Value)] = true
	}
	require.Equal(t, map[string]bool{"1": true, "2": true}, values)
}

func mustDecodeHex(t *testing.T, s string) []byte {
	require.True(t, len(s) >= 2 && s[:2] == "0x", s)
	b, err := hex.DecodeString(s[2:])
	require.NoError(t, err)
	return b
}

func TestPostEvents(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/blocks/1/events/Balances/Transfer", map[string]any{
		"data": []string{hexKey(u32(5)), "0xff", hexKey(u32(7))},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Events []struct {
			Value json.RawMessage `json:"value"`
			Error string          `json:"error"`
		} `json:"events"`
	}](t, rec)

	require.Len(t, resp.Events, 3)
	require.JSONEq(t, "5", string(resp.Events[0].Value))
	require.Empty(t, resp.Events[0].Error)
	require.Empty(t, resp.Events[1].Value)
	require.NotEmpty(t, resp.Events[1].Error)
	require.JSONEq(t, "7", string(resp.Events[2].Value))

	// The event kind does not exist at block 2: every occurrence carries the error.
	rec = s.do(t, http.MethodPost, "/v1/blocks/2/events/Balances/Transfer", map[string]any{
		"data": []string{hexKey(u32(5))},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[struct {
		Events []struct {
			Value json.RawMessage `json:"value"`
			Error string          `json:"error"`
		} `json:"events"`
	}](t, rec)
	require.Len(t, resp.Events, 1)
	require.Contains(t, resp.Events[0].Error, registry.ErrNotPresent.Error())
}

func TestRequestTimeout(t *testing.T) {
	s := newTestServer(t, 20*time.Millisecond)
	s.node.Delay = time.Second

	rec := s.do(t, http.MethodPost, "/v1/blocks/1/storage/System/Account/many", map[string]any{
		"keys": [][]string{{hexKey(accountKey(0xa1))}},
	})
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
}

func TestCorsPreflight(t *testing.T) {
	s := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/v1/blocks/1/storage/System/Account/many", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))

	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestGetAllPaged(t *testing.T) {
	s := newTestServer(t, 0)

	var values []string
	after := ""
	for requests := 0; ; requests++ {
		require.Less(t, requests, 5)
		path := "/v1/blocks/1/storage/System/Account/all?limit=1"
		if after != "" {
			path += "&after=" + after
		}
		rec := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[struct {
			Entries []testEntry `json:"entries"`
			Next    string      `json:"next"`
		}](t, rec)
		require.LessOrEqual(t, len(resp.Entries), 1)
		for _, e := range resp.Entries {
			values = append(values, string(e.Value))
		}
		if resp.Next == "" {
			break
		}
		after = resp.Next
	}
	require.ElementsMatch(t, []string{"1", "2"}, values)

	rec := s.do(t, http.MethodGet, "/v1/blocks/1/storage/System/Account/all?after=0x0102", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

// Package api serves versioned storage reads and event decoding over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/codec"
	"github.com/oasisprotocol/chainview/log"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const (
	moduleName = "api"

	// Upper bound on POST bodies; batch requests are key lists, not blobs.
	maxBodyBytes = 8 << 20
)

// ChainviewAPI serves the v1 HTTP API.
type ChainviewAPI struct {
	storage *accessor.StorageAccessor
	events  *accessor.EventAccessor
	blocks  nodeapi.BlockHashSource
	logger  *log.Logger
}

func NewChainviewAPI(storage *accessor.StorageAccessor, events *accessor.EventAccessor, blocks nodeapi.BlockHashSource, logger *log.Logger) *ChainviewAPI {
	return &ChainviewAPI{
		storage: storage,
		events:  events,
		blocks:  blocks,
		logger:  logger.WithModule(moduleName),
	}
}

// RegisterRoutes mounts the v1 routes on `r`.
func (a *ChainviewAPI) RegisterRoutes(r chi.Router) {
	r.Route("/v1/blocks/{block}", func(r chi.Router) {
		r.Route("/storage/{section}/{name}", func(r chi.Router) {
			r.Get("/", a.getStorage)
			r.Get("/exists", a.getExists)
			r.Get("/all", a.getAll)
			r.Post("/many", a.postMany)
		})
		r.Post("/events/{section}/{name}", a.postEvents)
	})
}

// Router returns a handler serving the API with the standard middleware stack.
func (a *ChainviewAPI) Router(m MiddlewareConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m.Metrics, a.logger))
	r.Use(middleware.Recoverer)
	if m.RequestTimeout > 0 {
		r.Use(TimeoutMiddleware(m.RequestTimeout))
	}
	a.RegisterRoutes(r)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		HumanReadableJsonErrorHandler(w, r, fmt.Errorf("%w: no route for %s %s", ErrNotFound, r.Method, r.URL.Path))
	})
	return CorsMiddleware(r)
}

func (a *ChainviewAPI) parseBlock(r *http.Request) (nodeapi.BlockRef, error) {
	block, err := nodeapi.ParseBlockRef(r.Context(), a.blocks, chi.URLParam(r, "block"))
	if errors.Is(err, nodeapi.ErrInvalidBlockRef) {
		return block, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return block, err
}

func parseItem(r *http.Request) registry.ItemIdentity {
	return registry.ItemIdentity{
		Section: chi.URLParam(r, "section"),
		Name:    chi.URLParam(r, "name"),
	}
}

// ParseKey turns hex-encoded key parts into a key tuple. Parts are already
// SCALE-encoded; only the hashers are applied server-side.
func ParseKey(parts []string) (registry.KeyTuple, error) {
	key := make(registry.KeyTuple, 0, len(parts))
	for _, p := range parts {
		raw, err := hexutil.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("%w: key part %q: %v", ErrBadRequest, p, err)
		}
		key = append(key, codec.RawKey(raw))
	}
	return key, nil
}

func toRawKey(parts []hexutil.Bytes) registry.KeyTuple {
	key := make(registry.KeyTuple, len(parts))
	for i, p := range parts {
		key[i] = codec.RawKey(p)
	}
	return key
}

func (a *ChainviewAPI) parseTarget(r *http.Request) (nodeapi.BlockRef, registry.ItemIdentity, error) {
	block, err := a.parseBlock(r)
	if err != nil {
		return block, registry.ItemIdentity{}, err
	}
	return block, parseItem(r), nil
}

func (a *ChainviewAPI) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", ErrBadRequest, err)
	}
	return nil
}

func (a *ChainviewAPI) reply(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response",
			"request_id", RequestID(r.Context()),
			"err", err,
		)
	}
}

func (a *ChainviewAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	if HttpCodeForError(err) >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
	}
	HumanReadableJsonErrorHandler(w, r, err)
}

func (a *ChainviewAPI) getStorage(w http.ResponseWriter, r *http.Request) {
	block, item, err := a.parseTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	key, err := ParseKey(r.URL.Query()["key"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	value, ok, err := a.storage.Get(r.Context(), block, item, key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.reply(w, r, ValueResponse{
		Block:   NewBlock(block),
		Item:    item.String(),
		Present: ok,
		Value:   value,
	})
}

func (a *ChainviewAPI) getExists(w http.ResponseWriter, r *http.Request) {
	block, item, err := a.parseTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	exists, err := a.storage.Exists(r.Context(), block, item)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.reply(w, r, ExistsResponse{
		Block:  NewBlock(block),
		Item:   item.String(),
		Exists: exists,
	})
}

func (a *ChainviewAPI) getAll(w http.ResponseWriter, r *http.Request) {
	block, item, err := a.parseTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, paged, err := NewPagination(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !paged {
		entries, err := a.storage.GetAll(r.Context(), block, item)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.reply(w, r, NewEntriesResponse(block, item, entries))
		return
	}

	entries, next, err := a.storage.GetPage(r.Context(), block, item, p.After, p.Limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := NewEntriesResponse(block, item, entries)
	resp.Next = next
	a.reply(w, r, resp)
}

func (a *ChainviewAPI) postMany(w http.ResponseWriter, r *http.Request) {
	block, item, err := a.parseTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req ManyRequest
	if err = a.decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	keys := make([]registry.KeyTuple, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = toRawKey(k)
	}
	entries, err := a.storage.GetMany(r.Context(), block, item, keys)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.reply(w, r, NewEntriesResponse(block, item, entries))
}

func (a *ChainviewAPI) postEvents(w http.ResponseWriter, r *http.Request) {
	block, item, err := a.parseTarget(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req EventsRequest
	if err = a.decodeBody(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	raw := make([]accessor.RawEvent, len(req.Data))
	for i, d := range req.Data {
		raw[i] = accessor.RawEvent{Item: item, Data: d}
	}
	decoded := a.events.DecodeEvents(r.Context(), block, raw)
	resp := EventsResponse{
		Block:  NewBlock(block),
		Item:   item.String(),
		Events: make([]EventEntry, len(decoded)),
	}
	for i, e := range decoded {
		resp.Events[i] = EventEntry{Value: e.Value}
		if e.Err != nil {
			resp.Events[i].Error = e.Err.Error()
		}
	}
	a.reply(w, r, resp)
}

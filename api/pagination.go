package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	LimitKey = "limit"
	AfterKey = "after"

	DefaultLimit = uint32(100)
	MaximumLimit = uint32(1000)
)

// Pagination is a cursor into a storage map enumeration.
type Pagination struct {
	Limit uint32
	// After is the last storage key of the previous page; nil for the first page.
	After []byte
}

// NewPagination extracts pagination parameters from an http request. ok is
// false if the request asks for no pagination at all.
func NewPagination(r *http.Request) (p Pagination, ok bool, err error) {
	values := r.URL.Query()
	if !values.Has(LimitKey) && !values.Has(AfterKey) {
		return p, false, nil
	}

	p.Limit = DefaultLimit
	if v := values.Get(LimitKey); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil || limit == 0 {
			return p, true, fmt.Errorf("%w: %s must be a positive integer", ErrBadRequest, LimitKey)
		}
		p.Limit = min(uint32(limit), MaximumLimit)
	}

	if v := values.Get(AfterKey); v != "" {
		if p.After, err = hexutil.Decode(v); err != nil {
			return p, true, fmt.Errorf("%w: %s: %v", ErrBadRequest, AfterKey, err)
		}
	}
	return p, true, nil
}

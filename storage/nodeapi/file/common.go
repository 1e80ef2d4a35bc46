package file

import (
	"github.com/oasisprotocol/oasis-core/go/common/cbor"
)

// cborValue encodes v the same way kvstore.GetFromCacheOrCall does, so
// values written directly can be read back through the typed helpers.
func cborValue(v interface{}) []byte {
	return cbor.Marshal(v)
}

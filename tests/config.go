package tests

import "os"

var (
	baseEndpoint string
	rpcEndpoint  string
)

// Init initializes the testing environment.
func Init() {
	baseEndpoint = envOr("CHAINVIEW_E2E_API", "http://localhost:8008/v1")
	rpcEndpoint = envOr("CHAINVIEW_E2E_RPC", "ws://localhost:9944")
}

// RPCEndpoint is the node the e2e tests read from.
func RPCEndpoint() string {
	return rpcEndpoint
}

func envOr(key string, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

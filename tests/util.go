// Package tests holds helpers for tests that need a running node or server.
package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
)

// SkipUnlessE2E skips the test unless CHAINVIEW_E2E is set.
func SkipUnlessE2E(t *testing.T) {
	if _, ok := os.LookupEnv("CHAINVIEW_E2E"); !ok {
		t.Skip("skipping test since e2e tests are not enabled")
	}
}

// GetFrom completes an HTTP request against the API and returns the
// unmarshalled response along with the status code.
func GetFrom(path string, v interface{}) (int, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, fmt.Sprintf("%s%s", baseEndpoint, path), nil)
	if err != nil {
		return 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding %q: %w", body, err)
	}
	return resp.StatusCode, nil
}

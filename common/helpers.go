// Package common contains small helpers shared by the services.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oasisprotocol/chainview/log"
)

// How long a server is given to finish in-flight requests on shutdown.
const shutdownTimeout = 5 * time.Second

func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "err", err)
	}
}

func WriteOrLog(w io.Writer, p []byte, logger *log.Logger) {
	if _, err := w.Write(p); err != nil {
		logger.Warn("write failed", "err", err)
	}
}

// RunServer serves `server` until ctx is canceled or the server fails,
// then shuts it down gracefully.
func RunServer(ctx context.Context, server *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server at %s: %w", server.Addr, err)
	case <-ctx.Done():
		logger.Info("shutting down http server", "addr", server.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server at %s: %w", server.Addr, err)
		}
		return nil
	}
}

package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Serve runs h on addr until ctx is done, then shuts the server down with a
// short grace period. Pass a pre-bound listener through ln to skip Listen.
func Serve(ctx context.Context, addr string, ln net.Listener, h http.Handler, logger zerolog.Logger) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", strings.TrimSpace(addr))
		if err != nil {
			return err
		}
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("http listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veyra/stitchd/errors"
)

// Run starts both transports and blocks until the context is cancelled
// or either listener fails. The streaming listener serves the
// line-oriented protocol on streamAddr; the admin HTTP server serves
// adminAddr and carries the WebSocket endpoint.
func Run(ctx context.Context, streamAddr, adminAddr string, stream *StreamServer, admin *AdminServer) error {
	ln, err := net.Listen("tcp", streamAddr)
	if err != nil {
		return errors.Wrapf(err, "listen stream %s", streamAddr)
	}

	httpSrv := &http.Server{
		Addr:              adminAddr,
		Handler:           admin.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return stream.Serve(ctx, ln)
	})

	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "admin server %s", adminAddr)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vigil/internal/api"
)

const httpServerShutdownTimeout = 5 * time.Second

func (d *daemon) serve() error {
	listener, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Roots:         d.roots,
		States:        d.states,
		Subscriptions: d.subscriptions,
		Watch:         d.watch,
		Metrics:       d.meters,
		LogBuffer:     d.logBuffer,
		Logger:        d.logger,
		AuthToken:     d.authToken,
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopAgeOut := d.startAgeOutLoop(ctx)
	defer stopAgeOut()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	d.logger.Info("listening", map[string]string{
		"addr": listener.Addr().String(),
	})

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	d.logger.Info("shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

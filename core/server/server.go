// Package server runs the item router as a plain HTTP server or as an AWS Lambda
// function behind API Gateway
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/relabs-tech/itemsvc/core/config"
	"github.com/relabs-tech/itemsvc/core/logger"
)

const shutdownTimeout = 10 * time.Second

// Run serves handler with the server backend kind until ctx is done. For
// config.ServerLambda it never returns, the Lambda runtime owns the process.
func Run(ctx context.Context, kind string, port int, handler http.Handler) error {
	switch kind {
	case config.ServerHTTP:
		return ServeHTTP(ctx, fmt.Sprintf(":%d", port), handler)
	case config.ServerLambda:
		logger.Default().Infoln("starting lambda handler")
		lambda.Start(LambdaHandler(handler))
		return nil
	default:
		return fmt.Errorf("unknown server '%s'", kind)
	}
}

// ServeHTTP listens on addr and serves handler until ctx is done, then shuts down gracefully
func ServeHTTP(ctx context.Context, addr string, handler http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serve(ctx, listener, handler)
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Default().Infoln("listen on", listener.Addr())
		errs <- srv.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Default().Infoln("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package jsonrpc

import (
	"context"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/habiliai/parley/internal/mylog"
)

type ServerOption = func(server *rpc.Server)

func NewHandler(logger *mylog.Logger, opts ...ServerOption) http.Handler {
	rpcServer := newRPCServer(logger, opts...)

	return newRecoveryHandler(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithCancel(r.Context())
			defer cancel()

			rpcServer.ServeHTTP(w, r.WithContext(ctx))
		}),
	)
}

func NewHandlerWithHealth(logger *mylog.Logger, opts ...ServerOption) http.Handler {
	mainHandler := NewHandler(logger, opts...)
	healthHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Warn("failed to write health response", "err", err)
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			healthHandler.ServeHTTP(w, r)
		case "/rpc":
			mainHandler.ServeHTTP(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

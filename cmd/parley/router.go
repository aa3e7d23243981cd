package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/jsonrpc"
	"github.com/habiliai/parley/store"
)

// newRouter mounts the JSON-RPC endpoint next to a small REST surface for
// UIs: thread listing and a live part stream per thread.
func newRouter(logger *mylog.Logger, st store.Store) http.Handler {
	router := mux.NewRouter()

	router.Handle("/rpc", jsonrpc.NewHandler(logger, jsonrpc.WithThreads(st))).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Warn("failed to write health response", "err", err)
		}
	}).Methods("GET")

	router.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		threads, err := st.ListThreads(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(threads); err != nil {
			logger.Warn("failed to encode threads", "err", err)
		}
	}).Methods("GET")

	// Server-sent events: every part appended to the thread from now on.
	router.HandleFunc("/threads/{threadId}/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		threadID := mux.Vars(r)["threadId"]

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		for part := range st.Subscribe(r.Context(), threadID) {
			data, err := json.Marshal(part)
			if err != nil {
				logger.Warn("failed to encode part", "threadId", threadID, "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}).Methods("GET")

	return router
}

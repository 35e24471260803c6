package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
)

const maxBody = 1 << 20

type recallRequest struct {
	SessionKey string `json:"session_key"`
	Prompt     string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	mm memorymanager.MemoryManager
}

func (h *handler) captureTurn(w http.ResponseWriter, r *http.Request) {
	var turn memorymanager.Turn
	if err := decode(r, &turn); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	decision, err := h.mm.Capture(r.Context(), turn)
	if err != nil {
		slog.ErrorContext(r.Context(), "capture failed", "session", turn.SessionKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "capture failed"})
		return
	}

	// vectors stay server side
	decision.Record.Embedding = nil

	writeJSON(w, http.StatusOK, decision)
}

func (h *handler) recall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	recollection, err := h.mm.Recall(r.Context(), req.SessionKey, req.Prompt)
	if err != nil {
		slog.ErrorContext(r.Context(), "recall failed", "session", req.SessionKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "recall failed"})
		return
	}

	if recollection.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	for i := range recollection.Chronological {
		recollection.Chronological[i].Embedding = nil
	}
	for i := range recollection.Ranked {
		recollection.Ranked[i].Embedding = nil
	}

	writeJSON(w, http.StatusOK, recollection)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); len(ct) > 0 && !strings.HasPrefix(ct, "application/json") {
		return errors.New("content type must be application/json")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

// NewHandler routes the host hooks, health and metrics.
func NewHandler(mm memorymanager.MemoryManager, ms ...func(h http.Handler) http.Handler) http.Handler {
	h := &handler{mm: mm}

	router := mux.NewRouter()

	router.HandleFunc("/v1/turns", h.captureTurn).Methods(http.MethodPost)
	router.HandleFunc("/v1/recall", h.recall).Methods(http.MethodPost)
	router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(logRequests)
	for _, m := range ms {
		router.Use(mux.MiddlewareFunc(m))
	}

	return router
}

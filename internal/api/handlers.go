package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"gwi.com/sqlrag/internal/core"
	"gwi.com/sqlrag/internal/store"
)

// Asker answers one question, streaming its output to out.
type Asker interface {
	Ask(ctx context.Context, question string, out io.Writer) (*core.Answer, error)
}

// Catalog lists the indexed table definitions.
type Catalog interface {
	Definitions() []store.TableDefinition
}

type APIHandler struct {
	asker   Asker
	catalog Catalog

	// The pipeline holds per-question state, so questions are answered one at a time.
	mu sync.Mutex
}

func NewAPIHandler(asker Asker, catalog Catalog) *APIHandler {
	return &APIHandler{asker: asker, catalog: catalog}
}

type AskRequest struct {
	Question string `json:"question"`
}

// streamWriter commits the response status on the first write and flushes after every write.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.w.Header().Set("X-Content-Type-Options", "nosniff")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return s.w.Write(p)
}

func (s *streamWriter) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		http.Error(w, "Question cannot be empty", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	out := &streamWriter{w: w}
	answer, err := h.asker.Ask(r.Context(), req.Question, out)
	if err == nil {
		if answer != nil && answer.Failed() {
			log.Printf("Question %q produced a failing query: %s", req.Question, answer.SQL)
		}
		if !out.started {
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	log.Printf("Error answering question %q: %v", req.Question, err)
	if out.started {
		// Status already sent; the truncated body is all the client gets.
		return
	}
	if core.IsGenerationError(err) {
		http.Error(w, "Language model request failed", http.StatusBadGateway)
		return
	}
	http.Error(w, "Failed to answer question", http.StatusInternalServerError)
}

func (h *APIHandler) ListTablesHandler(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.Definitions()
	if defs == nil {
		defs = []store.TableDefinition{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(defs)
}

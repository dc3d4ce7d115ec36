package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/convindex/convindex/internal/rank"
	"github.com/convindex/convindex/internal/store"
)

type statusResponse struct {
	Status      string `json:"status"`
	Documents   int    `json:"documents"`
	LastUpdated string `json:"lastUpdated"`
}

type queryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Mode       string `json:"mode"`
}

type queryContextEntry struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	DocumentID string  `json:"document_id"`
	Relevance  float64 `json:"relevance"`
}

type queryResponse struct {
	Response string              `json:"response"`
	Context  []queryContextEntry `json:"context"`
}

type insertRequest struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Summary  string         `json:"summary"`
	Metadata map[string]any `json:"metadata"`
}

type insertResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId,omitempty"`
	Error      string `json:"error,omitempty"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type clearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Backup  string `json:"backup,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "online",
		Documents:   s.store.Count(),
		LastUpdated: s.store.LastUpdated().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{
			Response: "invalid request body",
			Context:  []queryContextEntry{},
		})
		return
	}

	mode, err := rank.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{
			Response: err.Error(),
			Context:  []queryContextEntry{},
		})
		return
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = s.opts.DefaultMaxResults
	}

	results := rank.Rank(req.Query, s.store.List(), limit, mode)

	resp := queryResponse{Context: make([]queryContextEntry, 0, len(results))}
	for _, res := range results {
		resp.Context = append(resp.Context, queryContextEntry{
			Content:    res.Document.Content,
			Source:     res.Document.Source,
			DocumentID: res.Document.ID,
			Relevance:  res.Score,
		})
	}
	if len(results) == 0 {
		resp.Response = "No relevant documents found."
	} else {
		resp.Response = fmt.Sprintf("Found %d relevant document(s).", len(results))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, insertResponse{Success: false, Error: "invalid request body"})
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	id, err := s.store.Insert(store.InsertRequest{
		Content:  req.Text,
		Source:   source,
		Summary:  req.Summary,
		Metadata: req.Metadata,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrEmptyContent) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, insertResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, insertResponse{Success: true, DocumentID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, deleteResponse{Success: false, Error: "invalid request body"})
		return
	}

	if err := s.store.Delete(req.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, deleteResponse{Success: false, Error: "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, deleteResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		Success: true,
		Message: fmt.Sprintf("deleted %s", req.ID),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, clearResponse{Success: false, Error: "invalid request body"})
		return
	}

	result, err := s.store.Clear(req.Confirm, true)
	if err != nil {
		if errors.Is(err, store.ErrConfirmationRequired) {
			writeJSON(w, http.StatusBadRequest, clearResponse{Success: false, Error: "Confirmation required"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, clearResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, clearResponse{
		Success: true,
		Message: fmt.Sprintf("removed %d document(s)", result.RemovedCount),
		Backup:  result.BackupPath,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

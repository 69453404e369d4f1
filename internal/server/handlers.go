package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BadgerOps/sharezip/internal/apperr"
	"github.com/BadgerOps/sharezip/internal/engine"
	"github.com/BadgerOps/sharezip/internal/safety"
	"github.com/BadgerOps/sharezip/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrorBody is the JSON envelope for every failed request.
type ErrorBody struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// DownloadFolderRequest is the body of POST /file/download-folder. Path is
// kept raw so a missing field and a non-string value can be told apart.
type DownloadFolderRequest struct {
	Path json.RawMessage `json:"path"`
}

// handleDownloadFolder materializes the requested folder and streams it back
// as a ZIP attachment.
func (s *Server) handleDownloadFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := s.decodeFolderPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	archive, err := s.materializer.Materialize(r.Context(), folder)
	if err != nil {
		// The materializer has already logged the failure.
		s.writeKind(w, apperr.KindOf(err))
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": archive.Name})
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, archive.Reader); err != nil {
		s.logger.Warn("failed to write archive", "path", folder, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
	}
}

func (s *Server) decodeFolderPath(r *http.Request) (string, error) {
	body, err := safety.ReadBody(r.Body, s.config.Server.MaxBodyBytes)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "failed to read request body")
	}

	var req DownloadFolderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "request body is not a JSON object")
	}
	if len(req.Path) == 0 || string(req.Path) == "null" {
		return "", apperr.New(apperr.InvalidInput, "path is required")
	}

	var folder string
	if err := json.Unmarshal(req.Path, &folder); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "path must be a string")
	}
	if folder == "" {
		return "", apperr.New(apperr.InvalidInput, "path is empty")
	}
	return folder, nil
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleAPIDownloads returns recent folder downloads, newest first.
func (s *Server) handleAPIDownloads(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperr.New(apperr.InvalidInput, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	status := r.URL.Query().Get("status")

	downloads := []store.FolderDownload{}
	if s.history != nil {
		var err error
		downloads, err = s.history.ListFolderDownloads(status, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, downloads)
}

// handleAPIDownload returns one folder download by request ID.
func (s *Server) handleAPIDownload(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeKind(w, apperr.RouteNotFound)
		return
	}
	fd, err := s.history.GetFolderDownload(chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeKind(w, apperr.RouteNotFound)
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fd)
}

// handleAPIActive returns progress for requests still in flight.
func (s *Server) handleAPIActive(w http.ResponseWriter, r *http.Request) {
	active := s.materializer.Active()
	if active == nil {
		active = []engine.Progress{}
	}
	s.writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeKind(w, apperr.RouteNotFound)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeKind(w, apperr.MethodNotAllowed)
}

// writeError maps err to its envelope. Only the table message reaches the
// client; the error itself stays in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	attrs := []any{
		"kind", kind,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	}
	switch {
	case errors.Is(err, context.Canceled):
		s.logger.Debug("request cancelled by client", attrs...)
	case apperr.Is(err, apperr.InternalFault):
		s.logger.Error("request failed", attrs...)
	default:
		s.logger.Debug("request rejected", attrs...)
	}
	s.writeKind(w, kind)
}

func (s *Server) writeKind(w http.ResponseWriter, kind apperr.Kind) {
	resp := apperr.Lookup(kind)
	s.writeJSON(w, resp.Status, ErrorBody{
		ErrorCode:    resp.Code,
		ErrorMessage: resp.Message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

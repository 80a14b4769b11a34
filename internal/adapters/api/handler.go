// Package api exposes the annotation service over HTTP. Responses follow the
// store's wire conventions: failures carry {"status":"failure","reason":...}.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"annotcore/internal/adapters/export"
	"annotcore/internal/core"
	"annotcore/pkg/domain"
)

const (
	// Version reported by the API root descriptor.
	Version = "2.0.0"

	reasonNoPayloadCreate = "No JSON payload sent. Annotation not created."
	reasonNoPayloadUpdate = "No JSON payload sent. Annotation not updated."
)

// Handler routes annotation store requests to the core service.
type Handler struct {
	Service *core.Service
	Auth    Authenticator
	Exports *export.Worker
	Logger  *zap.Logger
}

// NewHandler constructs the HTTP handler. Exports may be nil, in which case
// the export endpoints return 404.
func NewHandler(service *core.Service, auth Authenticator, logger *zap.Logger) *Handler {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: service, Auth: auth, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeFailure(w, http.StatusInternalServerError, "annotation service not configured")
		return
	}

	identity := h.Auth.Identify(r)
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api" || path == "":
		h.handleRoot(w, r)
	case path == "/api/search" && r.Method == http.MethodGet:
		h.handleSearch(w, r, identity)
	case path == "/api/annotations":
		h.handleAnnotations(w, r, identity)
	case strings.HasPrefix(path, "/api/annotations/"):
		h.handleAnnotation(w, r, identity, strings.TrimPrefix(path, "/api/annotations/"))
	case path == "/api/nipsa" && r.Method == http.MethodGet:
		h.handleFlaggedUsers(w)
	case strings.HasPrefix(path, "/api/nipsa/"):
		h.handleFlag(w, r, identity, strings.TrimPrefix(path, "/api/nipsa/"))
	case strings.HasPrefix(path, "/api/users/") && strings.HasSuffix(path, "/anonymize"):
		user := strings.TrimSuffix(strings.TrimPrefix(path, "/api/users/"), "/anonymize")
		h.handleAnonymize(w, r, identity, user)
	case path == "/api/reindex" && r.Method == http.MethodPost:
		h.handleReindex(w, r, identity)
	case path == "/api/exports" || strings.HasPrefix(path, "/api/exports/"):
		h.handleExports(w, r, identity, path)
	default:
		writeFailure(w, http.StatusNotFound, "not found")
	}
}

// handleRoot returns the API descriptor, including installed selector plugins.
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "annotcore",
		"version": Version,
		"plugins": h.Service.RegisteredPlugins(),
		"links": map[string]any{
			"annotation": map[string]any{
				"create": map[string]string{"method": "POST", "url": "/api/annotations"},
				"read":   map[string]string{"method": "GET", "url": "/api/annotations/:id"},
				"update": map[string]string{"method": "PUT", "url": "/api/annotations/:id"},
				"delete": map[string]string{"method": "DELETE", "url": "/api/annotations/:id"},
			},
			"search": map[string]string{"method": "GET", "url": "/api/search"},
		},
	})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request, identity core.Identity) {
	results, err := h.Service.Search(r.Context(), r.URL.Query(), identity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleAnnotations(w http.ResponseWriter, r *http.Request, identity core.Identity) {
	switch r.Method {
	case http.MethodGet:
		results, err := h.Service.Recent(r.Context(), identity, 0)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results.Rows)
	case http.MethodPost:
		annotation, ok := decodeAnnotation(w, r, reasonNoPayloadCreate)
		if !ok {
			return
		}
		created, _, err := h.Service.CreateAnnotation(r.Context(), identity, annotation)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleAnnotation(w http.ResponseWriter, r *http.Request, identity core.Identity, id string) {
	if id == "" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		annotation, err := h.Service.ReadAnnotation(r.Context(), identity, id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, annotation)
	case http.MethodPut:
		patch, ok := decodeAnnotation(w, r, reasonNoPayloadUpdate)
		if !ok {
			return
		}
		updated, _, err := h.Service.UpdateAnnotation(r.Context(), identity, id, patch)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if _, err := h.Service.DeleteAnnotation(r.Context(), identity, id); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
	default:
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleFlaggedUsers(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"users": h.Service.FlaggedUsers()})
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request, identity core.Identity, user string) {
	if !identity.Authenticated() {
		writeFailure(w, http.StatusUnauthorized, "Not authorized to moderate users.")
		return
	}
	if user == "" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	var err error
	switch r.Method {
	case http.MethodPut:
		_, err = h.Service.FlagUser(r.Context(), user)
	case http.MethodDelete:
		_, err = h.Service.UnflagUser(r.Context(), user)
	default:
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnonymize(w http.ResponseWriter, r *http.Request, identity core.Identity, user string) {
	if r.Method != http.MethodPost {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !identity.Authenticated() {
		writeFailure(w, http.StatusUnauthorized, "Not authorized to moderate users.")
		return
	}
	if user == "" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	count, _, err := h.Service.AnonymizeUser(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anonymized": count})
}

func (h *Handler) handleReindex(w http.ResponseWriter, r *http.Request, identity core.Identity) {
	if !identity.Authenticated() {
		writeFailure(w, http.StatusUnauthorized, "Not authorized to rebuild the index.")
		return
	}
	count, err := h.Service.Reindex(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexed": count})
}

type exportRequest struct {
	Params  map[string][]string `json:"params,omitempty"`
	Formats []string            `json:"formats,omitempty"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, identity core.Identity, path string) {
	if h.Exports == nil {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	if path == "/api/exports" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"exports": h.Exports.List()})
		case http.MethodPost:
			if !identity.Authenticated() {
				writeFailure(w, http.StatusUnauthorized, "Not authorized to export annotations.")
				return
			}
			var req exportRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeFailure(w, http.StatusBadRequest, "invalid export request payload")
				return
			}
			formats := make([]export.Format, 0, len(req.Formats))
			for _, f := range req.Formats {
				formats = append(formats, export.Format(f))
			}
			record, err := h.Exports.Enqueue(r.Context(), export.Input{
				Params:   req.Params,
				Formats:  formats,
				Identity: identity,
			})
			if err != nil {
				writeFailure(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, record)
		default:
			writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/exports/")
	record, ok := h.Exports.Get(id)
	if !ok {
		writeFailure(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// decodeAnnotation reads an annotation body, reporting the store's canonical
// empty-payload reason when the body is missing.
func decodeAnnotation(w http.ResponseWriter, r *http.Request, emptyReason string) (domain.Annotation, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		writeFailure(w, http.StatusBadRequest, emptyReason)
		return domain.Annotation{}, false
	}
	var annotation domain.Annotation
	if err := json.Unmarshal(body, &annotation); err != nil {
		writeFailure(w, http.StatusBadRequest, emptyReason)
		return domain.Annotation{}, false
	}
	return annotation, true
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var permErr core.ErrPermission
	if errors.As(err, &permErr) {
		writeFailure(w, http.StatusUnauthorized, permErr.Reason)
		return
	}
	var notFound core.ErrNotFound
	if errors.As(err, &notFound) {
		writeFailure(w, http.StatusNotFound, notFound.Error())
		return
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		reason := violation.Error()
		if len(violation.Result.Violations) > 0 {
			reason = violation.Result.Violations[0].Message
		}
		writeFailure(w, http.StatusBadRequest, reason)
		return
	}
	h.Logger.Error("request failed", zap.Error(err))
	writeFailure(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"status": "failure", "reason": reason})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/log"
	"github.com/ayusman/mudra/internal/store"
)

// ResponseHandler handles HTTP requests for the label to clip mapping.
type ResponseHandler struct {
	store    *store.Store
	onChange func() error
}

// NewResponseHandler creates a ResponseHandler. onChange, if not nil, is
// called after every successful mutation so the running catalog can reload.
func NewResponseHandler(s *store.Store, onChange func() error) *ResponseHandler {
	return &ResponseHandler{store: s, onChange: onChange}
}

// ServeHTTP routes /api/responses and /api/responses/{id}.
func (h *ResponseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/responses")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type responseRequest struct {
	Label    string `json:"label"`
	Resource string `json:"resource"`
}

type responseResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Resource  string `json:"resource"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type listResponsesResponse struct {
	Responses []responseResponse `json:"responses"`
}

func toResponseResponse(resp *store.Response) responseResponse {
	return responseResponse{
		ID:        resp.ID,
		Label:     resp.Label,
		Resource:  resp.Resource,
		CreatedAt: formatTime(resp.CreatedAt),
		UpdatedAt: formatTime(resp.UpdatedAt),
	}
}

func (h *ResponseHandler) list(w http.ResponseWriter, r *http.Request) {
	responses, err := h.store.Responses().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list responses")
		return
	}

	out := listResponsesResponse{
		Responses: make([]responseResponse, 0, len(responses)),
	}
	for _, resp := range responses {
		out.Responses = append(out.Responses, toResponseResponse(resp))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *ResponseHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	resp, err := h.store.Responses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Response not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get response")
		return
	}

	writeJSON(w, http.StatusOK, toResponseResponse(resp))
}

func (h *ResponseHandler) create(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	req.Label = strings.TrimSpace(req.Label)
	req.Resource = strings.TrimSpace(req.Resource)
	if req.Label == "" || req.Resource == "" {
		writeError(w, http.StatusBadRequest, "Label and resource are required")
		return
	}

	if _, err := h.store.Responses().GetByLabel(req.Label); err == nil {
		writeError(w, http.StatusConflict, "Label already has a response")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to check label")
		return
	}

	resp := &store.Response{
		ID:       uuid.New().String(),
		Label:    req.Label,
		Resource: req.Resource,
	}
	if err := h.store.Responses().Create(resp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create response")
		return
	}

	h.changed()
	writeJSON(w, http.StatusCreated, toResponseResponse(resp))
}

func (h *ResponseHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	resp, err := h.store.Responses().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Response not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get response")
		return
	}

	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if label := strings.TrimSpace(req.Label); label != "" {
		resp.Label = label
	}
	if resource := strings.TrimSpace(req.Resource); resource != "" {
		resp.Resource = resource
	}

	if err := h.store.Responses().Update(resp); err != nil {
		writeError(w, http.StatusConflict, "Failed to update response")
		return
	}

	h.changed()
	writeJSON(w, http.StatusOK, toResponseResponse(resp))
}

func (h *ResponseHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Responses().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Response not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete response")
		return
	}

	h.changed()
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResponseHandler) changed() {
	if h.onChange == nil {
		return
	}
	if err := h.onChange(); err != nil {
		log.Warn("failed to reload responses", "error", err)
	}
}

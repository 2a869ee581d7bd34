package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/store"
)

// MaxDetections caps the limit query parameter.
const MaxDetections = 500

// DetectionsHandler serves the detection history.
type DetectionsHandler struct {
	store *store.Store
}

// NewDetectionsHandler creates a DetectionsHandler with the given store.
func NewDetectionsHandler(s *store.Store) *DetectionsHandler {
	return &DetectionsHandler{store: s}
}

type detectionResponse struct {
	ID          int64   `json:"id"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Percent     int     `json:"percent"`
	Action      string  `json:"action"`
	ResponseID  string  `json:"response_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type listDetectionsResponse struct {
	Detections []detectionResponse `json:"detections"`
	Total      int                 `json:"total"`
}

// ServeHTTP handles GET /api/detections?limit=N and DELETE /api/detections.
func (h *DetectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.clear(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DetectionsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxDetections)
	}

	detections, err := h.store.Detections().Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}
	total, err := h.store.Detections().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count detections")
		return
	}

	out := listDetectionsResponse{
		Detections: make([]detectionResponse, 0, len(detections)),
		Total:      total,
	}
	for _, d := range detections {
		out.Detections = append(out.Detections, detectionResponse{
			ID:          d.ID,
			Label:       d.Label,
			Probability: d.Probability,
			Percent:     classifier.Prediction{Label: d.Label, Probability: d.Probability}.Percent(),
			Action:      d.Action,
			ResponseID:  d.ResponseID,
			CreatedAt:   formatTime(d.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *DetectionsHandler) clear(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Detections().Prune(0); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear detections")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

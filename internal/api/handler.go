package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"announcement-engine/internal/announce"
	"announcement-engine/internal/storage"
	"announcement-engine/internal/trigger"
)

// Handler exposes the page-view lifecycle over HTTP. The client opens a view
// on page load, streams browser signals in, and polls for the announcement
// to present.
type Handler struct {
	defs  *storage.Definitions
	views *Registry
}

func NewHandler(defs *storage.Definitions, views *Registry) *Handler {
	return &Handler{defs: defs, views: views}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type openViewRequest struct {
	VisitorID string `json:"visitor_id"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	Page      struct {
		ScrollHeight   int `json:"scroll_height"`
		ViewportHeight int `json:"viewport_height"`
	} `json:"page"`
}

type announcementView struct {
	ID      string          `json:"id"`
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type openViewResponse struct {
	ViewID    string            `json:"view_id"`
	VisitorID string            `json:"visitor_id"`
	Current   *announcementView `json:"current,omitempty"`
}

func (h *Handler) OpenView(w http.ResponseWriter, r *http.Request) {
	var req openViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	query := url.Values{}
	if u, err := url.Parse(req.URL); err == nil {
		query = u.Query()
	}
	page := trigger.PageView{
		Query:          query,
		Referrer:       req.Referrer,
		ScrollHeight:   req.Page.ScrollHeight,
		ViewportHeight: req.Page.ViewportHeight,
	}

	viewID, visitorID := h.views.Open(req.VisitorID, page, h.defs.Active())
	resp := openViewResponse{ViewID: viewID, VisitorID: visitorID}
	if eng, ok := h.views.Get(viewID); ok {
		resp.Current = toView(eng.Current())
	}
	writeJSON(w, http.StatusCreated, resp)
}

type signalRequest struct {
	Type           string `json:"type"` // scroll | exit_intent | interaction
	Offset         int    `json:"offset,omitempty"`
	AnnouncementID string `json:"announcement_id,omitempty"`
}

func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.views.Get(chi.URLParam(r, "viewID"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	switch req.Type {
	case "scroll":
		eng.Scroll(req.Offset)
	case "exit_intent":
		eng.ExitIntent()
	case "interaction":
		eng.Interaction(req.AnnouncementID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown signal type"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.views.Get(chi.URLParam(r, "viewID"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cur := eng.Current()
	if cur == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toView(cur))
}

type dismissRequest struct {
	AnnouncementID string `json:"announcement_id"`
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.views.Get(chi.URLParam(r, "viewID"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req dismissRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AnnouncementID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "announcement_id required"})
		return
	}
	eng.Dismiss(req.AnnouncementID)
	w.WriteHeader(http.StatusAccepted)
}

func toView(a *announce.Announcement) *announcementView {
	if a == nil {
		return nil
	}
	return &announcementView{ID: a.ID, Label: a.Label, Payload: a.Payload}
}

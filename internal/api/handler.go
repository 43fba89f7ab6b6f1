package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/biz/usecase"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

// call forwards a request to the background context
func call[T any](s *Server, r *http.Request, action string, payload any) (T, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout*2)
	defer cancel()
	return service.Call[T](ctx, s.bg.Mailbox(), action, payload)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	out, err := call[map[string]string](s, r, messenger.ActionPing, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := call[[]*domain.Event](s, r, service.ActionListEvents, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	s.writeJSON(w, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := call[any](s, r, service.ActionRemoveEvent, service.EventRef{ID: id}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleOpenEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := call[service.OpenResult](s, r, service.ActionOpenEvent, service.EventRef{ID: id})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleSendReply(w http.ResponseWriter, r *http.Request) {
	var req service.ReplyRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	out, err := call[service.ReplyResult](s, r, service.ActionSendReply, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	req := service.CheckRequest{Manual: true}
	if !s.decode(w, r, &req, true) {
		return
	}
	req.Manual = true
	out, err := call[service.CheckResult](s, r, service.ActionCheckMentionsManually, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	out, err := call[service.IdentityStatus](s, r, service.ActionGetDetectedUsername, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleSetIdentity(w http.ResponseWriter, r *http.Request) {
	var req service.UsernameRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	out, err := call[service.IdentityStatus](s, r, service.ActionSetManualUsername, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	out, err := call[domain.Settings](s, r, service.ActionGetSettings, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if !s.decode(w, r, &req, false) {
		return
	}
	out, err := call[domain.Settings](s, r, service.ActionUpdateSettings, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages := []service.PageStatus{}
	for _, tab := range s.bg.Pages().Tabs() {
		mb, ok := s.bg.Pages().Get(tab)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		st, err := service.Call[service.PageStatus](ctx, mb, service.ActionPageStatus, nil)
		cancel()
		if err != nil {
			st = service.PageStatus{TabID: tab, State: "unresponsive"}
		}
		pages = append(pages, st)
	}
	s.writeJSON(w, map[string]any{"pages": pages})
}

// decode reads a JSON body into v. An empty body is accepted when optional.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	http.Error(w, "invalid JSON body", http.StatusBadRequest)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoPage), errors.Is(err, service.ErrNoShim):
		return http.StatusConflict
	case errors.Is(err, messenger.ErrNoReceiver), errors.Is(err, messenger.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"context"
	"net/http"

	"github.com/mentionwatch/mentionwatch/internal/biz/domain"
	"github.com/mentionwatch/mentionwatch/internal/messenger"
	"github.com/mentionwatch/mentionwatch/internal/service"
)

// snapshots carry the page HTML
const maxFrameSize = 16 << 20

// PopupEvents is the first frame a popup subscriber receives
const PopupEvents = "events"

// handlePageSocket runs one page agent for the lifetime of the shim
// connection
func (s *Server) handlePageSocket(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	if tab == "" {
		http.Error(w, "query parameter 'tab' is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("page upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)
	peer := messenger.NewPeer(conn)
	defer peer.Close()

	agent, err := s.bg.OpenPage(r.Context(), tab, peer, s.resolver, s.extractor, s.config.Scheduler)
	if err != nil {
		s.log.Error().Err(err).Str("tab", tab).Msg("failed to open page")
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := agent.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("tab", tab).Msg("page agent failed")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = peer.Close()
	}()
	defer func() {
		s.bg.ClosePage(agent)
		cancel()
		<-done
	}()

	for {
		f, err := peer.ReadFrame()
		if err != nil {
			s.log.Debug().Err(err).Str("tab", tab).Msg("page socket closed")
			return
		}
		agent.HandleFrame(f)
	}
}

// handlePopupSocket subscribes a popup to event and identity updates
func (s *Server) handlePopupSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("popup upgrade failed")
		return
	}
	peer := messenger.NewPeer(conn)
	defer peer.Close()

	events, err := call[[]*domain.Event](s, r, service.ActionListEvents, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("popup initial list failed")
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	if err := peer.WriteFrame(PopupEvents, events); err != nil {
		return
	}

	s.hub.Add(peer)
	defer s.hub.Remove(peer)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = peer.Close()
	}()

	// popups only listen; reading detects the close
	for {
		if _, err := peer.ReadFrame(); err != nil {
			return
		}
	}
}

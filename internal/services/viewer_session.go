package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/google/uuid"
)

const (
	defaultSessionBuffer = 64
	emitTimeout          = 5 * time.Second
)

// ViewerSession records analytics for one viewing of a published document.
// Recording never blocks and never fails: events go through a bounded buffer
// to a background emitter, a full buffer drops the event, and sink errors are
// only logged.
type ViewerSession struct {
	documentID string
	userID     string
	sessionID  string
	sink       EventSink

	mu      sync.Mutex
	maxPage int
	closed  bool

	events  chan models.ViewerEvent
	done    chan struct{}
	dropped atomic.Int64
}

// NewViewerSession starts a session. An empty sessionID gets a random one.
func NewViewerSession(sink EventSink, documentID, userID, sessionID string, buffer int) *ViewerSession {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if buffer < 1 {
		buffer = defaultSessionBuffer
	}
	s := &ViewerSession{
		documentID: documentID,
		userID:     userID,
		sessionID:  sessionID,
		sink:       sink,
		maxPage:    1,
		events:     make(chan models.ViewerEvent, buffer),
		done:       make(chan struct{}),
	}
	go s.emit()
	return s
}

func (s *ViewerSession) SessionID() string { return s.sessionID }

// MaxPageReached is the highest page turned to so far, at least 1.
func (s *ViewerSession) MaxPageReached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPage
}

// Dropped counts events lost to a full buffer or a closed session.
func (s *ViewerSession) Dropped() int64 { return s.dropped.Load() }

func (s *ViewerSession) Opened() {
	s.enqueue(s.event(models.EventViewerOpened))
}

func (s *ViewerSession) PageTurned(page int) {
	if page < 1 {
		return
	}
	s.mu.Lock()
	if page > s.maxPage {
		s.maxPage = page
	}
	s.mu.Unlock()

	ev := s.event(models.EventPageTurned)
	ev.PageNumber = &page
	s.enqueue(ev)
}

// Ended records session_ended with the furthest page seen, raised to
// reported when the viewer tracked a further page itself.
func (s *ViewerSession) Ended(reported int) {
	s.mu.Lock()
	if reported > s.maxPage {
		s.maxPage = reported
	}
	reached := s.maxPage
	s.mu.Unlock()

	ev := s.event(models.EventSessionEnded)
	ev.PagesReached = &reached
	s.enqueue(ev)
}

// Close stops accepting events and waits until the buffer is drained or ctx
// is done.
func (s *ViewerSession) Close(ctx context.Context) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *ViewerSession) event(t models.ViewerEventType) models.ViewerEvent {
	return models.ViewerEvent{
		DocumentID: s.documentID,
		UserID:     s.userID,
		EventType:  t,
		SessionID:  s.sessionID,
	}
}

func (s *ViewerSession) enqueue(ev models.ViewerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		slog.Debug("Analytics buffer full, dropping event.", "sessionId", s.sessionID, "eventType", ev.EventType)
	}
}

func (s *ViewerSession) emit() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		if err := s.sink.Emit(ctx, ev); err != nil {
			slog.Debug("Failed to record analytics event.", "sessionId", s.sessionID, "eventType", ev.EventType, "error", err)
		}
		cancel()
	}
}

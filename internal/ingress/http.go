package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/penguintechinc/waddlebot-router/internal/logging"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Processor routes and dispatches one event, returning an error only when
// routing cannot start. The sync HTTP path writes a RouterError with its
// mapped status code and any other error as 500.
type Processor interface {
	Process(ctx context.Context, ev *types.Event) error
}

// Server serves the synchronous POST /v1/events ingress endpoint.
type Server struct {
	router    *httprouter.Router
	processor Processor
	inflight  chan struct{}
	deadline  time.Duration
}

// NewServer builds the ingress HTTP surface. maxInFlight bounds concurrent
// in-process events; a request arriving once the bound is saturated gets
// 429 instead of queuing indefinitely.
func NewServer(processor Processor, maxInFlight int, eventDeadline time.Duration) *Server {
	if maxInFlight <= 0 {
		maxInFlight = 1024
	}
	if eventDeadline <= 0 {
		eventDeadline = 15 * time.Second
	}
	s := &Server{
		router:    httprouter.New(),
		processor: processor,
		inflight:  make(chan struct{}, maxInFlight),
		deadline:  eventDeadline,
	}
	s.router.POST("/v1/events", s.handleEvent)
	return s
}

// Handler returns the http.Handler to mount on the ingress listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	select {
	case s.inflight <- struct{}{}:
		defer func() { <-s.inflight }()
	default:
		writeError(w, rterrors.New(rterrors.CodeRateLimited, "ingress at capacity").WithDetails("backpressure"))
		return
	}

	var w2 wireEvent
	if err := json.NewDecoder(r.Body).Decode(&w2); err != nil {
		writeError(w, rterrors.Wrap(err, rterrors.CodeMalformedEvent, "invalid event JSON"))
		return
	}

	ev, err := toEvent(w2)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deadline)
	defer cancel()

	if err := s.processor.Process(ctx, ev); err != nil {
		logging.Warn("ingress event processing failed", zap.String("event_id", ev.ID), zap.Error(err))
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"event_id": ev.ID, "correlation_id": ev.CorrelationID})
}

// Stats reports bounded in-flight capacity usage.
type Stats struct {
	InFlight int
	Capacity int
}

// Stats returns a snapshot of in-flight usage.
func (s *Server) Stats() Stats {
	return Stats{InFlight: len(s.inflight), Capacity: cap(s.inflight)}
}

func writeError(w http.ResponseWriter, err error) {
	if re, ok := rterrors.As(err); ok {
		re.WriteJSON(w)
		return
	}
	re := rterrors.Wrap(err, rterrors.CodeInternal, "unexpected ingress error")
	re.WriteJSON(w)
}

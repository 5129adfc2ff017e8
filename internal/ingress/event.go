// Package ingress accepts normalized events over a synchronous HTTP
// endpoint or a durable AMQP queue, validates them, attaches a correlation
// id, and hands them to a Processor for routing. The HTTP path bounds
// in-flight events with a semaphore and answers 429 when it is full; the
// AMQP path bounds unacknowledged deliveries with the channel prefetch and
// processes them one at a time.
package ingress

import (
	"time"

	"github.com/google/uuid"

	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// wireEvent is the inbound JSON shape produced by platform receivers.
type wireEvent struct {
	ID            string         `json:"id"`
	CommunityID   string         `json:"community_id"`
	Principal     wirePrincipal  `json:"principal"`
	Entity        wireEntity     `json:"entity"`
	Kind          string         `json:"kind"`
	Text          string         `json:"text,omitempty"`
	EventType     string         `json:"event_type,omitempty"`
	EventData     map[string]any `json:"event_data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ScopeEnvelope string         `json:"scope_envelope,omitempty"`
}

type wirePrincipal struct {
	ID             string `json:"id"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
	RoleBucket     string `json:"role_bucket,omitempty"`
}

type wireEntity struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

// toEvent validates w and converts it into the router's internal Event,
// assigning an id and correlation id if the caller left them blank.
func toEvent(w wireEvent) (*types.Event, error) {
	if w.CommunityID == "" {
		return nil, rterrors.New(rterrors.CodeUnknownCommunity, "community_id is required")
	}
	if w.Principal.Platform == "" || w.Entity.Platform == "" {
		return nil, rterrors.New(rterrors.CodeMalformedEvent, "principal and entity platform are required")
	}

	var kind types.EventKind
	switch w.Kind {
	case string(types.EventKindCommand):
		kind = types.EventKindCommand
		if w.Text == "" {
			return nil, rterrors.New(rterrors.CodeMalformedEvent, "text is required for command events")
		}
	case string(types.EventKindEvent):
		kind = types.EventKindEvent
		if w.EventType == "" {
			return nil, rterrors.New(rterrors.CodeMalformedEvent, "event_type is required for platform events")
		}
	default:
		return nil, rterrors.New(rterrors.CodeMalformedEvent, "kind must be \"command\" or \"event\"")
	}

	id := w.ID
	if id == "" {
		id = uuid.NewString()
	}
	correlationID := w.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ts := w.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &types.Event{
		ID:          id,
		CommunityID: w.CommunityID,
		Principal: types.Principal{
			ID:             w.Principal.ID,
			Platform:       types.Platform(w.Principal.Platform),
			PlatformUserID: w.Principal.PlatformUserID,
			CommunityID:    w.CommunityID,
			RoleBucket:     w.Principal.RoleBucket,
		},
		Entity: types.Entity{
			ID:       w.Entity.ID,
			Platform: types.Platform(w.Entity.Platform),
		},
		Kind:          kind,
		Text:          w.Text,
		EventType:     w.EventType,
		EventData:     w.EventData,
		Timestamp:     ts,
		CorrelationID: correlationID,
		ScopeEnvelope: w.ScopeEnvelope,
	}, nil
}

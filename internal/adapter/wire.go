package adapter

import "github.com/penguintechinc/waddlebot-router/internal/types"

// Payload is the wire-stable adapter request body shared by every remote
// variant: webhook, Lambda, GCP Function, OpenWhisk and gRPC all send this
// same shape as JSON. gRPC carries it through a JSON codec; there is no
// protobuf message for it.
type Payload struct {
	Community CommunityPayload `json:"community"`
	Trigger   TriggerPayload   `json:"trigger"`
	User      UserPayload      `json:"user"`
	Entity    EntityPayload    `json:"entity"`
	RequestID string           `json:"request_id"`
	Timestamp string           `json:"timestamp"` // RFC3339
}

type CommunityPayload struct {
	ID string `json:"id"`
}

type TriggerPayload struct {
	Kind        string         `json:"kind"` // "command" | "event"
	Command     string         `json:"command,omitempty"`
	ContextText string         `json:"context_text,omitempty"`
	EventType   string         `json:"event_type,omitempty"`
	EventData   map[string]any `json:"event_data,omitempty"`
}

type UserPayload struct {
	ID             string `json:"id"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
}

type EntityPayload struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

// ResponsePayload is the wire-stable adapter response body.
type ResponsePayload struct {
	Success bool           `json:"success"`
	Message *string        `json:"message"`
	Data    map[string]any `json:"data"`
	Error   *string        `json:"error"`
	Targets []any          `json:"targets"` // string or {"type":..., ...}
}

// BuildPayload converts a dispatch-time ExecuteRequest into the wire payload
// every transport variant sends.
func BuildPayload(req *types.ExecuteRequest) Payload {
	kind := "command"
	if req.EventType != "" {
		kind = "event"
	}
	return Payload{
		Community: CommunityPayload{ID: req.CommunityID},
		Trigger: TriggerPayload{
			Kind:        kind,
			Command:     req.Command,
			ContextText: req.ContextText,
			EventType:   req.EventType,
			EventData:   req.EventData,
		},
		User: UserPayload{
			ID:             req.Principal.ID,
			Platform:       string(req.Principal.Platform),
			PlatformUserID: req.Principal.PlatformUserID,
		},
		Entity: EntityPayload{
			ID:       req.Entity.ID,
			Platform: string(req.Entity.Platform),
		},
		RequestID: req.ID,
		Timestamp: req.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ParseResponse converts a decoded ResponsePayload into types.ExecuteResponse.
func ParseResponse(p ResponsePayload) *types.ExecuteResponse {
	resp := &types.ExecuteResponse{Success: p.Success, Data: p.Data}
	if p.Message != nil {
		resp.Message = *p.Message
	}
	if p.Error != nil {
		resp.Error = *p.Error
	}
	for _, t := range p.Targets {
		switch v := t.(type) {
		case string:
			resp.Targets = append(resp.Targets, types.EgressTarget{Type: v})
		case map[string]any:
			target := types.EgressTarget{}
			if typ, ok := v["type"].(string); ok {
				target.Type = typ
			}
			if eo, ok := v["entity_override"].(string); ok {
				target.EntityOverride = eo
			}
			resp.Targets = append(resp.Targets, target)
		}
	}
	return resp
}

package dto

import "encoding/json"

// Websocket message types.
const (
	WsTypeConnected = "connected"
	WsTypeState     = "state"
	WsTypeStepPatch = "step_patch"
	WsTypeLogUpdate = "log_update"
	WsTypeError     = "error"

	// Sent by the client to request a fresh snapshot.
	WsTypeGetState = "get_state"
)

type WsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WsInbound is a decoded message whose payload is kept raw until its type is known.
type WsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// StepReport is published on NATS by the external unzip/decompile/compile
// workers to move their step forward.
type StepReport struct {
	ConnectionID string  `json:"connection_id" validate:"required"`
	Step         string  `json:"step" validate:"required_without_all=LogAppend LogSet"`
	Progress     *int    `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Status       *string `json:"status,omitempty" validate:"omitempty,oneof=waiting running success warning error cancelled"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Error        *string `json:"error,omitempty"`
	LogAppend    *string `json:"log_append,omitempty"`
	LogSet       *string `json:"log_set,omitempty"`
}

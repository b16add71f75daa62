package websocket

import (
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionLoad          Action = "load"
	ActionStart         Action = "start"
	ActionAnswer        Action = "answer"
	ActionAnswerPart    Action = "answer_part"
	ActionNavigate      Action = "navigate"
	ActionFlag          Action = "flag"
	ActionRequestSubmit Action = "request_submit"
	ActionConfirmSubmit Action = "confirm_submit"
	ActionCancelSubmit  Action = "cancel_submit"
	ActionPing          Action = "ping"
)

// Request is every client message. Index is the zero-based question
// position; Part is the zero-based sub-answer of a multi-part question.
type Request struct {
	Action Action `json:"action" binding:"required,oneof=load start answer answer_part navigate flag request_submit confirm_submit cancel_submit ping"`
	Index  *int   `json:"index,omitempty" binding:"omitempty,min=0"`
	Part   *int   `json:"part,omitempty" binding:"omitempty,min=0"`
	Value  string `json:"value,omitempty" binding:"max=20000"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState   Event = "state"
	EventTick    Event = "tick"
	EventSaved   Event = "saved"
	EventConfirm Event = "confirm"
	EventError   Event = "error"
	EventPong    Event = "pong"
)

// StateResponse carries a full session snapshot. Questions is only set in
// reply to load.
type StateResponse struct {
	Event     Event                      `json:"event"`
	Snapshot  session.Snapshot           `json:"snapshot"`
	Questions []model.QuestionForStudent `json:"questions,omitempty"`
}

// SessionEvent relays an event pushed by the session.
type SessionEvent struct {
	Event Event         `json:"event"`
	Data  session.Event `json:"data"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Action Action            `json:"action,omitempty"`
	Kind   string            `json:"kind,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

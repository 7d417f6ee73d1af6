// Package session owns the real-time side of an interview: websocket
// authentication, the connection/agent registry, the client message
// protocol, time-budget warnings, and transcript persistence ordering.
package session

import (
	"encoding/json"
	"time"
)

// Client→server message types.
const (
	TypeMessage    = "message"
	TypeControl    = "control"
	TypeAudioChunk = "audio_chunk"
)

// Server→client message types.
const (
	TypeAIResponse    = "ai_response"
	TypeTranscription = "transcription"
	TypeStatus        = "status"
	TypeError         = "error"
	TypeTimeWarning   = "time_warning"
)

// Control actions.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionEnd    = "end"
)

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagePayload carries an interviewee text turn.
type MessagePayload struct {
	Content string `json:"content"`
}

// ControlPayload carries a lifecycle action.
type ControlPayload struct {
	Action string `json:"action"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// AIResponsePayload is a full or partial model reply.
type AIResponsePayload struct {
	Content   string `json:"content"`
	IsPartial bool   `json:"isPartial,omitempty"`
	IsFinal   bool   `json:"isFinal,omitempty"`
}

// TranscriptionPayload confirms a persisted turn back to the client.
type TranscriptionPayload struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsFinal   bool   `json:"isFinal"`
}

// StatusPayload reports a session or interview status change.
type StatusPayload struct {
	Status          string `json:"status"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Summary         any    `json:"summary,omitempty"`
}

// ErrorPayload reports a recoverable or terminal session error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TimeWarningPayload is one threshold crossing of the time budget.
type TimeWarningPayload struct {
	Level            string `json:"level"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Message          string `json:"message"`
}

func aiResponseMsg(content string, partial, final bool) ServerMessage {
	return ServerMessage{Type: TypeAIResponse, Payload: AIResponsePayload{
		Content: content, IsPartial: partial, IsFinal: final,
	}}
}

func transcriptionMsg(speaker, text string, at time.Time) ServerMessage {
	return ServerMessage{Type: TypeTranscription, Payload: TranscriptionPayload{
		Speaker: speaker, Text: text, Timestamp: at.UTC().Format(time.RFC3339), IsFinal: true,
	}}
}

func statusMsg(status string) ServerMessage {
	return ServerMessage{Type: TypeStatus, Payload: StatusPayload{Status: status}}
}

func errorMsg(message string) ServerMessage {
	return ServerMessage{Type: TypeError, Payload: ErrorPayload{Message: message}}
}

func timeWarningMsg(w Warning) ServerMessage {
	return ServerMessage{Type: TypeTimeWarning, Payload: TimeWarningPayload{
		Level: w.Level, RemainingSeconds: w.RemainingSeconds, Message: w.Message,
	}}
}

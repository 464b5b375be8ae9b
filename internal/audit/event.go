package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Action names an audited store action.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionSignup         Action = "signup"
	ActionSessionCheck   Action = "session_check"
	ActionProfileUpdate  Action = "profile_update"
	ActionPasswordReset  Action = "password_reset"
	ActionPasswordUpdate Action = "password_update"
	ActionEmailVerify    Action = "email_verify"
)

// Event is one audited action of one browser client.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	ClientID  string            `json:"client_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	ErrorKind string            `json:"error_kind,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives dispatched events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a buffered channel, mostly for tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON document per line to w.
type JSONWriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w, enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LogSink writes events as structured log records at Info level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("action", string(event.Action)),
		slog.Bool("success", event.Success),
		slog.String("client_id", event.ClientID),
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", event.ErrorKind))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

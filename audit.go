package tokutei

import (
	"io"
	"log/slog"

	"github.com/tokutei-learning/tokutei/internal/audit"
)

// Audit types are defined in internal/audit and re-exported here.
type (
	AuditEvent     = audit.Event
	AuditAction    = audit.Action
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogSink        = audit.LogSink
)

const (
	AuditLogin          = audit.ActionLogin
	AuditLogout         = audit.ActionLogout
	AuditSignup         = audit.ActionSignup
	AuditSessionCheck   = audit.ActionSessionCheck
	AuditProfileUpdate  = audit.ActionProfileUpdate
	AuditPasswordReset  = audit.ActionPasswordReset
	AuditPasswordUpdate = audit.ActionPasswordUpdate
	AuditEmailVerify    = audit.ActionEmailVerify
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return audit.NewLogSink(logger)
}

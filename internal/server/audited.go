// ABOUTME: Tool backend wrapper that records every invocation in the audit
// ABOUTME: trail, shared by the MCP transport and the direct tool API.

package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/2389/bambu-gateway/internal/audit"
	"github.com/2389/bambu-gateway/internal/tools"
)

// auditedTools wraps the dispatcher so both transports record tool activity
// at one site. The event identity is the tool name.
type auditedTools struct {
	tools  *tools.Dispatcher
	audit  audit.Log
	logger *slog.Logger
}

func (a *auditedTools) Definitions() []tools.Definition {
	return a.tools.Definitions()
}

func (a *auditedTools) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	result, err := a.tools.Invoke(ctx, name, args)
	if err != nil {
		a.record(ctx, audit.KindToolFailed, name, err.Error())
		return nil, err
	}
	a.record(ctx, audit.KindToolInvoked, name, "")
	return result, nil
}

// record appends an audit event. Failures are logged, never surfaced.
func (a *auditedTools) record(ctx context.Context, kind audit.Kind, name, detail string) {
	if err := a.audit.Record(ctx, &audit.Event{Kind: kind, Identity: name, Detail: detail}); err != nil {
		a.logger.Warn("audit record failed", "kind", kind, "error", err)
	}
}

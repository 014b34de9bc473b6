package adapters

import "log/slog"

// AuditSink receives one entry per mutating adapter operation, independent of
// dry-run state.
type AuditSink interface {
	LogOperation(operation, principalName, principalID, adapterID string, success bool, details map[string]any)
}

// SlogAudit writes audit entries through a structured logger.
type SlogAudit struct {
	Logger *slog.Logger
}

func NewSlogAudit(logger *slog.Logger) *SlogAudit {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAudit{Logger: logger}
}

func (a *SlogAudit) LogOperation(operation, principalName, principalID, adapterID string, success bool, details map[string]any) {
	attrs := []any{
		"operation", operation,
		"principal_name", principalName,
		"principal_id", principalID,
		"adapter_id", adapterID,
		"success", success,
	}
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	if success {
		a.Logger.Info("audit", attrs...)
		return
	}
	a.Logger.Warn("audit", attrs...)
}

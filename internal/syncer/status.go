package syncer

import (
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/model"
)

// StatusSink receives a display-ready status: an icon and a short text.
// It is a display hook only; implementations must not block.
type StatusSink interface {
	Report(icon, text string)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(icon, text string)

// Report calls f.
func (f StatusFunc) Report(icon, text string) { f(icon, text) }

// NopSink discards status reports.
type NopSink struct{}

// Report does nothing.
func (NopSink) Report(string, string) {}

// LogSink writes status reports to the global zap logger.
type LogSink struct{}

// Report logs the status at debug level.
func (LogSink) Report(icon, text string) {
	zap.L().Debug("sync status", zap.String("icon", icon), zap.String("text", text))
}

// StatusDisplay returns the icon and text shown for s.
func StatusDisplay(s model.SyncStatus) (icon, text string) {
	switch s {
	case model.SyncStatusUpdating:
		return "⏳", "Actualizando datos… / Updating data…"
	case model.SyncStatusUpdated:
		return "✅", "Datos actualizados / Data updated"
	case model.SyncStatusUnchanged:
		return "✅", "Datos al día / Data up to date"
	case model.SyncStatusError:
		return "⚠️", "Error al actualizar / Update failed"
	default:
		return "🔄", "En espera / Waiting"
	}
}

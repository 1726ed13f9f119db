package ecrnx

import (
	"context"
	"log/slog"
)

const (
	levelTrace slog.Level = slog.LevelDebug - 1
	// deviceLevel is used for strings printed by the firmware.
	deviceLevel slog.Level = slog.LevelError - 1
)

func (d *Device) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Device) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	if d._traceenabled {
		d.logattrs(levelTrace, msg, attrs...)
	}
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger == nil {
		return
	}
	d.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LevelString names the driver's custom log levels, for use in a
// slog.HandlerOptions.ReplaceAttr.
func LevelString(level slog.Level) string {
	switch level {
	case deviceLevel:
		return "FW"
	case levelTrace:
		return "TRACE"
	}
	return level.String()
}

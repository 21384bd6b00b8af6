// Package logging собирает slog логгер процесса.
package logging

import (
	"io"
	"log/slog"
)

// New возвращает текстовый логгер: уровень Debug при debug=true, иначе Info.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

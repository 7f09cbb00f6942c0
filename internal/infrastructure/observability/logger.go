package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger; development mode logs at debug level.
func NewLogger(w io.Writer, development bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if development {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func InitLogger(development bool) {
	slog.SetDefault(NewLogger(os.Stdout, development))
}

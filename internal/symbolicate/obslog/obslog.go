// Package obslog builds the structured logger the dispatcher accepts
// through dispatch.SetLogger, replacing scattered fmt.Printf debug
// prints with log/slog calls fanned out with github.com/samber/slog-multi.
package obslog

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// New builds a logger that fans out to every writer in sinks (in
// addition to stderr), each rendered as JSON. With no sinks, it behaves
// like a plain stderr text logger.
func New(level slog.Level, sinks ...io.Writer) *slog.Logger {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if len(sinks) == 0 {
		return slog.New(stderrHandler)
	}

	handlers := []slog.Handler{stderrHandler}
	for _, w := range sinks {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// Discard is a logger that drops every record, the default used by
// library code when the caller supplies none.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))

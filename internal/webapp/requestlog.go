package webapp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"
)

// requestLogger feeds chi's request logging and panic reporting into
// phuslu/log.
type requestLogger struct {
	log log.Logger
}

type requestEntry struct {
	log    *log.Logger
	method string
	path   string
	remote string
}

func (l *requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestEntry{log: &l.log, method: r.Method, path: r.URL.Path, remote: r.RemoteAddr}
}

func (e *requestEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.log.Debug().Str("method", e.method).Str("path", e.path).Str("remote", e.remote).Int("status", status).Int("bytes", bytes).Dur("elapsed", elapsed).Msg("")
}

func (e *requestEntry) Panic(v interface{}, stack []byte) {
	e.log.Error().Str("method", e.method).Str("path", e.path).Interface("panic", v).Bytes("stack", stack).Msg("recovered from panic")
}

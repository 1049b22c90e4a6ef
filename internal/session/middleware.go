package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/sessions"

	"github.com/saltstack/jema/internal/observability/logger"
)

type stateKey struct{}

type requestState struct {
	session *sessions.Session
	dirty   bool
}

// state returns the request-scoped session. Outside Middleware a detached
// session is loaded on every call and changes must be saved explicitly.
func (m *Manager) state(r *http.Request) *requestState {
	if st, ok := r.Context().Value(stateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{session: m.load(r)}
}

// Middleware loads the session once per request and writes the cookie
// before the response header goes out.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &requestState{session: m.load(r)}
		r = r.WithContext(context.WithValue(r.Context(), stateKey{}, st))

		sw := &saveWriter{ResponseWriter: w}
		sw.save = func() {
			if err := m.Save(w, r); err != nil {
				slog.WarnContext(r.Context(), "session save failed",
					logger.Component("session"),
					logger.Error(err),
				)
			}
		}

		next.ServeHTTP(sw, r)
		sw.once.Do(sw.save)
	})
}

// saveWriter saves the session right before the first header write
type saveWriter struct {
	http.ResponseWriter
	save func()
	once sync.Once
}

func (w *saveWriter) WriteHeader(code int) {
	w.once.Do(w.save)
	w.ResponseWriter.WriteHeader(code)
}

func (w *saveWriter) Write(b []byte) (int, error) {
	w.once.Do(w.save)
	return w.ResponseWriter.Write(b)
}

func (w *saveWriter) Flush() {
	w.once.Do(w.save)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *saveWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

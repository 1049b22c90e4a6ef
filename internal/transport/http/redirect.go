package http

import (
	"net/http"
	"net/url"

	"github.com/saltstack/jema/internal/session"
)

// redirectTarget picks where to send the client back to. The first
// non-empty candidate wins: the _redirect_target form value, the next query
// parameter, the session value, then the Referer header. A candidate that
// leaves the application, points at the current path or at one of invalid
// yields "".
func (h *Handler) redirectTarget(r *http.Request, invalid ...string) string {
	return h.pickTarget(r, h.sessions.RedirectTarget(r), invalid...)
}

// pickTarget is redirectTarget with remembered standing in for the session
// value.
func (h *Handler) pickTarget(r *http.Request, remembered string, invalid ...string) string {
	candidate := r.FormValue(session.KeyRedirectTarget)
	if candidate == "" {
		candidate = r.URL.Query().Get("next")
	}
	if candidate == "" {
		candidate = remembered
	}
	if candidate == "" {
		candidate = r.Referer()
	}
	if candidate == "" {
		return ""
	}

	target, ok := h.resolve(candidate)
	if !ok || !sameOrigin(target, h.baseURL) {
		return ""
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return ""
	}

	current, _ := h.resolve(r.URL.Path)
	if samePage(target, current) {
		return ""
	}
	for _, inv := range invalid {
		if inv == "" {
			continue
		}
		if u, ok := h.resolve(inv); ok && samePage(target, u) {
			return ""
		}
	}
	return target.String()
}

// redirectBack redirects to the remembered target or to fallback.
func (h *Handler) redirectBack(w http.ResponseWriter, r *http.Request, fallback string, invalid ...string) {
	target := h.redirectTarget(r, invalid...)
	if target == "" {
		target = fallback
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) resolve(ref string) (*url.URL, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	return h.baseURL.ResolveReference(u), true
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}

func samePage(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return sameOrigin(a, b) && a.Path == b.Path && a.RawQuery == b.RawQuery
}

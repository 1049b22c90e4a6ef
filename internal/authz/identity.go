package authz

import (
	"context"
	"sync"

	"github.com/saltstack/jema/internal/identity"
)

// Identity is the per-request principal and the needs it provides.
// It is safe for concurrent use by handlers of the same request.
type Identity struct {
	Principal string
	Account   *identity.Account

	mu    sync.RWMutex
	needs NeedSet
}

// NewAnonymousIdentity returns an identity providing only the anonymous need
func NewAnonymousIdentity() *Identity {
	return &Identity{needs: NewNeedSet(AnonymousNeed)}
}

// IsAuthenticated reports whether an account is attached
func (i *Identity) IsAuthenticated() bool {
	return i != nil && i.Account != nil
}

// Provide adds needs to the identity
func (i *Identity) Provide(needs ...Need) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.needs == nil {
		i.needs = NeedSet{}
	}
	i.needs.Add(needs...)
}

// Needs returns a snapshot of the provided needs
func (i *Identity) Needs() NeedSet {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(NeedSet, len(i.needs))
	for n := range i.needs {
		out[n] = struct{}{}
	}
	return out
}

// Can reports whether the identity satisfies p
func (i *Identity) Can(p Permission) bool {
	if i == nil {
		return p.AllowedBy(NewNeedSet(AnonymousNeed))
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return p.AllowedBy(i.needs)
}

// Require returns ErrNotAuthenticated or ErrAccessDenied when p is not met
func (i *Identity) Require(p Permission) error {
	if i.Can(p) {
		return nil
	}
	if !i.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	return ErrAccessDenied
}

type contextKey struct{}

// WithIdentity stores id in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request identity, or an anonymous one
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok && id != nil {
		return id
	}
	return NewAnonymousIdentity()
}

package identity

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved effective identity to the
// context. It is produced exactly once per request by the HTTP layer and
// threaded into every downstream authorization call; nothing deeper in the
// call graph reads cookies.
func ContextWithIdentity(ctx context.Context, eff EffectiveIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &eff)
}

// IdentityFromContext extracts the effective identity from the context.
func IdentityFromContext(ctx context.Context) (EffectiveIdentity, bool) {
	if ctx == nil {
		return EffectiveIdentity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*EffectiveIdentity)
	if !ok || v == nil {
		return EffectiveIdentity{}, false
	}
	return *v, true
}

package catalog

import "context"

// Identity is the opaque caller identity forwarded to the catalog.
// How it was obtained is outside this package.
type Identity struct {
	Subject string
	Token   string
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity stored in ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && (id.Token != "" || id.Subject != "")
}

package domain

import "context"

// Download is a resolved artifact location.
type Download struct {
	URL      string
	Version  string
	FileName string
}

// Resolver is the port through which pipelines look up download locations.
// The domain does not know about any specific catalog API.
type Resolver interface {
	Resolve(ctx context.Context, family Family, selector string) (Download, error)
}

// ResolverFunc adapts a function into a Resolver.
type ResolverFunc func(ctx context.Context, family Family, selector string) (Download, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, family Family, selector string) (Download, error) {
	return f(ctx, family, selector)
}

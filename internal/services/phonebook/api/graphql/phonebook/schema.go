// Package phonebook binds the directory service to a GraphQL schema.
package phonebook

import (
	"context"
	_ "embed"

	"github.com/graph-gophers/graphql-go"
	otelgraphql "github.com/graph-gophers/graphql-go/trace/otel"

	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

//go:embed schema.graphql
var schemaSDL string

const maxQueryDepth = 8

// NewSchema parses the phonebook schema against resolver.
func NewSchema(resolver *Resolver) (*graphql.Schema, error) {
	return graphql.ParseSchema(
		schemaSDL,
		resolver,
		graphql.MaxDepth(maxQueryDepth),
		graphql.Tracer(otelgraphql.DefaultTracer()),
	)
}

type viewerKey struct{}

// WithViewer attaches the calling identity to ctx. A nil identity marks an
// anonymous caller.
func WithViewer(ctx context.Context, viewer *storage.Identity) context.Context {
	return context.WithValue(ctx, viewerKey{}, viewer)
}

// ViewerFromContext returns the identity attached by WithViewer.
func ViewerFromContext(ctx context.Context) *storage.Identity {
	viewer, _ := ctx.Value(viewerKey{}).(*storage.Identity)
	return viewer
}

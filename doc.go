// Package weft is a schema-definition grammar and relationship-resolution
// engine for document-graph data layers.
//
// Entities are declared with terse field-definition strings, parsed into a
// typed graph, and materialized at creation time by recursively resolving
// their relationships against a storage provider:
//
//	g, _ := graph.Build(map[string]any{
//	    "Post": map[string]any{
//	        "title":    "string!",
//	        "author":   "->Author.posts",
//	        "category": "~>Category(0.7)",
//	    },
//	    "Author":   map[string]any{"name": "string"},
//	    "Category": map[string]any{"name": "string"},
//	})
//	rt := weft.New(g, provider, weft.WithGenerator(gen))
//	post, err := rt.CreateWithCascade(ctx, "Post", weft.Record{"title": "Hello"},
//	    weft.CascadeOptions{Cascade: true, MaxDepth: 2})
//
// # Resolution
//
// Relation fields resolve lazily on first access and cache per instance.
// Exact relations resolve by stored id or inverse-side query; fuzzy
// relations try semantic search, then folded text matching, then generation
// through the external collaborator. A provider without vector search is a
// degradation path, not an error path.
//
// # Capabilities
//
// Optional provider features (semantic search, events, actions, artifacts,
// batch writes, transactions) are detected structurally from the provider's
// method surface, memoized by identity, and invalidated explicitly with
// ClearCapabilityCache.
package weft

// Package graph builds the normalized entity graph from a schema object.
//
// A schema is a plain map from entity name to either a type-URI string or a
// map of field-definition strings (see the field package for the grammar),
// optionally carrying $-prefixed directives:
//
//	g, err := graph.Build(map[string]any{
//	    "Post": map[string]any{
//	        "$instructions": "a technical blog post",
//	        "title":         "string!",
//	        "author":        "->Author.posts",
//	    },
//	    "Author": map[string]any{
//	        "name": "string",
//	    },
//	})
//
// # Normalization
//
// After all entities are parsed, a single normalization pass synthesizes the
// inverse field for every relation that declares a backref: Post.author above
// produces Author.posts, an array of Post with the operator inverted. A
// hand-authored field with the backref's name always wins; synthesis never
// overwrites, and re-running the pass is a no-op.
//
// The built graph is immutable. All accessors are read-only views computed
// over the normalized structure.
package graph

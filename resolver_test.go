package weft_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft"
	"github.com/weftlabs/weft/graph"
	"github.com/weftlabs/weft/provider/memory"
)

func resolverGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Build(map[string]any{
		"User": map[string]any{
			"name":       "string",
			"posts":      "<-Post.author",
			"occupation": "people who write software<~Occupation(0.5)",
		},
		"Post": map[string]any{
			"title":    "string",
			"author":   "->User",
			"category": "topic of the post~>Category",
		},
		"Invoice": map[string]any{
			"amount":   "decimal(10,2)",
			"customer": "->User!",
		},
		"Category":   map[string]any{"name": "string"},
		"Occupation": map[string]any{"name": "string"},
	})
	require.NoError(t, err)
	return g
}

func TestResolveForwardExact(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)
	post, err := rt.Create(ctx, "Post", weft.Record{"title": "Hello", "author": user.ID()})
	require.NoError(t, err)

	author, err := post.One(ctx, "author")
	require.NoError(t, err)
	require.NotNil(t, author)
	assert.Equal(t, user.ID(), author.ID())
	assert.Equal(t, "Ada", author.Field("name"))
}

func TestResolveForwardExactMissingOptional(t *testing.T) {
	ctx := context.Background()
	rt := weft.New(resolverGraph(t), memory.New())
	defer rt.Close()

	post, err := rt.Create(ctx, "Post", weft.Record{"title": "Orphan"})
	require.NoError(t, err)

	author, err := post.One(ctx, "author")
	require.NoError(t, err)
	assert.Nil(t, author)

	// A stored id whose target is gone also resolves to nil.
	post2, err := rt.Create(ctx, "Post", weft.Record{"title": "Dangling", "author": "gone"})
	require.NoError(t, err)
	author, err = post2.One(ctx, "author")
	require.NoError(t, err)
	assert.Nil(t, author)
}

func TestResolveForwardExactRequired(t *testing.T) {
	ctx := context.Background()
	rt := weft.New(resolverGraph(t), memory.New())
	defer rt.Close()

	inv, err := rt.Create(ctx, "Invoice", weft.Record{"amount": "10.00"})
	require.NoError(t, err)

	_, err = inv.One(ctx, "customer")
	require.Error(t, err)
	assert.True(t, weft.IsResolutionError(err))
	assert.True(t, weft.IsNotFound(err))
}

func TestResolveBackwardExact(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)
	p1, err := rt.Create(ctx, "Post", weft.Record{"title": "One", "author": user.ID()})
	require.NoError(t, err)
	p2, err := rt.Create(ctx, "Post", weft.Record{"title": "Two", "author": user.ID()})
	require.NoError(t, err)
	require.NoError(t, p.Relate(ctx, "Post", p1.ID(), "author", "User", user.ID()))
	require.NoError(t, p.Relate(ctx, "Post", p2.ID(), "author", "User", user.ID()))

	posts, err := user.Many(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	for _, post := range posts {
		assert.Equal(t, "Post", post.Type())
	}

	// A user with no inbound links resolves to an empty set, not an error.
	lurker, err := rt.Create(ctx, "User", weft.Record{"name": "Lurker"})
	require.NoError(t, err)
	posts, err = lurker.Many(ctx, "posts")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestResolveFuzzyTextMatch(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	require.NoError(t, p.Seed(ctx, "Category", []weft.Record{
		{"$id": "c1", "name": "Golang Programming"},
		{"$id": "c2", "name": "Cooking"},
	}))

	post, err := rt.Create(ctx, "Post", weft.Record{
		"title":        "Channels in practice",
		"categoryHint": "articles about golang programming",
	})
	require.NoError(t, err)

	cat, err := post.One(ctx, "category")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "c1", cat.ID())

	// Resolution persisted the link on the owning side.
	stored, err := p.Get(ctx, "Post", post.ID())
	require.NoError(t, err)
	assert.Equal(t, "c1", stored["category"])
	related, err := p.Related(ctx, "Post", post.ID(), "category")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "c1", related[0].ID())
}

func TestResolveFuzzyExistingLinkWins(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	require.NoError(t, p.Seed(ctx, "Category", []weft.Record{
		{"$id": "c1", "name": "Golang Programming"},
		{"$id": "c2", "name": "Cooking"},
	}))

	// The stored id short-circuits matching, even against a hint that
	// points elsewhere.
	post, err := rt.Create(ctx, "Post", weft.Record{
		"title":        "Recipes",
		"category":     "c2",
		"categoryHint": "golang programming",
	})
	require.NoError(t, err)

	cat, err := post.One(ctx, "category")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "c2", cat.ID())
}

func TestResolveFuzzyGeneratesOnMiss(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	var calls atomic.Int64
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		calls.Add(1)
		assert.Equal(t, "Category", req.EntityType)
		assert.Equal(t, "quantum computing", req.Prompt)
		return weft.Record{"name": "Quantum Computing"}, nil
	})
	rt := weft.New(resolverGraph(t), p, weft.WithGenerator(gen))
	defer rt.Close()

	post, err := rt.Create(ctx, "Post", weft.Record{
		"title":        "Qubits",
		"categoryHint": "quantum computing",
	})
	require.NoError(t, err)

	cat, err := post.One(ctx, "category")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "Quantum Computing", cat.Field("name"))
	assert.EqualValues(t, 1, calls.Load())

	// The generated target was persisted and linked.
	stored, err := p.Get(ctx, "Category", cat.ID())
	require.NoError(t, err)
	assert.Equal(t, "Quantum Computing", stored["name"])
	postRec, err := p.Get(ctx, "Post", post.ID())
	require.NoError(t, err)
	assert.Equal(t, cat.ID(), postRec["category"])
}

func TestResolveFuzzyNoHintResolvesNil(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		calls.Add(1)
		return weft.Record{}, nil
	})
	// Post.category carries a field prompt, so no-hint means clearing it
	// through a schema without one.
	g, err := graph.Build(map[string]any{
		"Post":     map[string]any{"title": "string", "category": "~>Category"},
		"Category": map[string]any{"name": "string"},
	})
	require.NoError(t, err)
	rt := weft.New(g, memory.New(), weft.WithGenerator(gen))
	defer rt.Close()

	post, err := rt.Create(ctx, "Post", weft.Record{"title": "Bare"})
	require.NoError(t, err)
	cat, err := post.One(ctx, "category")
	require.NoError(t, err)
	assert.Nil(t, cat)
	assert.Zero(t, calls.Load())
}

func TestResolveBackwardFuzzyGrounding(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	require.NoError(t, p.Seed(ctx, "Occupation", []weft.Record{
		{"$id": "o1", "name": "Software Developer"},
		{"$id": "o2", "name": "Chef"},
		{"$id": "o3", "name": "Data Scientist"},
	}))

	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)

	// The field prompt "people who write software" grounds against the
	// seeded taxonomy via folded text matching; the provider has no
	// semantic search and that is not an error.
	occ, err := user.One(ctx, "occupation")
	require.NoError(t, err)
	require.NotNil(t, occ)
	assert.Equal(t, "o1", occ.ID())

	// Grounding records a tuple but never writes an id onto the user.
	stored, err := p.Get(ctx, "User", user.ID())
	require.NoError(t, err)
	assert.NotContains(t, stored, "occupation")
	related, err := p.Related(ctx, "User", user.ID(), "occupation")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "o1", related[0].ID())
}

func TestResolveBackwardFuzzyNoGenerationByDefault(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		calls.Add(1)
		return weft.Record{"name": "Invented"}, nil
	})
	p := memory.New()
	rt := weft.New(resolverGraph(t), p, weft.WithGenerator(gen))
	defer rt.Close()

	// Empty taxonomy: grounding resolves to nil instead of inventing an
	// Occupation record.
	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)
	occ, err := user.One(ctx, "occupation")
	require.NoError(t, err)
	assert.Nil(t, occ)
	assert.Zero(t, calls.Load())

	all, err := p.List(ctx, "Occupation", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRelationCaching(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(resolverGraph(t), p)
	defer rt.Close()

	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)

	posts, err := user.Many(ctx, "posts")
	require.NoError(t, err)
	assert.Empty(t, posts)

	// A link added after the first access is invisible until Invalidate.
	post, err := rt.Create(ctx, "Post", weft.Record{"title": "Late", "author": user.ID()})
	require.NoError(t, err)
	require.NoError(t, p.Relate(ctx, "Post", post.ID(), "author", "User", user.ID()))

	posts, err = user.Many(ctx, "posts")
	require.NoError(t, err)
	assert.Empty(t, posts)

	user.Invalidate("posts")
	posts, err = user.Many(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, post.ID(), posts[0].ID())
}

func TestRelationUnknownField(t *testing.T) {
	ctx := context.Background()
	rt := weft.New(resolverGraph(t), memory.New())
	defer rt.Close()

	user, err := rt.Create(ctx, "User", weft.Record{"name": "Ada"})
	require.NoError(t, err)

	_, err = user.Relation(ctx, "nope")
	assert.True(t, weft.IsResolutionError(err))

	// Scalar fields are not relations.
	_, err = user.Relation(ctx, "name")
	assert.True(t, weft.IsResolutionError(err))
}

package weft_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft"
	"github.com/weftlabs/weft/graph"
	"github.com/weftlabs/weft/provider/memory"
)

func cascadeGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Build(map[string]any{
		"Company": map[string]any{
			"name":        "string",
			"departments": []string{"->Department"},
		},
		"Department": map[string]any{
			"name":  "string",
			"teams": []string{"->Team"},
		},
		"Team": map[string]any{
			"name": "string",
		},
	})
	require.NoError(t, err)
	return g
}

// progressLog collects cascade progress events; the runtime serializes the
// callback, so no extra locking is needed beyond reading after the call.
type progressLog struct {
	mu     sync.Mutex
	events []weft.Progress
}

func (l *progressLog) record(p weft.Progress) {
	l.mu.Lock()
	l.events = append(l.events, p)
	l.mu.Unlock()
}

func TestCreateWithCascade(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(cascadeGraph(t), p)
	defer rt.Close()

	var log progressLog
	root, err := rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name": "Acme",
		"departments": []any{
			map[string]any{
				"name": "Engineering",
				"teams": []any{
					map[string]any{"name": "Core"},
					map[string]any{"name": "Infra"},
				},
			},
			map[string]any{"name": "Sales"},
		},
	}, weft.CascadeOptions{
		Cascade:    true,
		MaxDepth:   3,
		OnProgress: log.record,
	})
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "Acme", root.Field("name"))

	companies, err := p.List(ctx, "Company", weft.ListOptions{})
	require.NoError(t, err)
	require.Len(t, companies, 1)
	depts, err := p.List(ctx, "Department", weft.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, depts, 2)
	// Engineering declared two teams; Sales cascades one unseeded branch.
	teams, err := p.List(ctx, "Team", weft.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, teams, 3)

	// The parent records hold the child ids after the final link patch.
	stored, err := p.Get(ctx, "Company", root.ID())
	require.NoError(t, err)
	ids, _ := stored["departments"].([]any)
	assert.Len(t, ids, 2)

	related, err := p.Related(ctx, "Company", root.ID(), "departments")
	require.NoError(t, err)
	assert.Len(t, related, 2)
}

func TestCascadeProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	rt := weft.New(cascadeGraph(t), memory.New())
	defer rt.Close()

	var log progressLog
	_, err := rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name": "Acme",
		"departments": []any{
			map[string]any{"name": "Eng", "teams": []any{
				map[string]any{"name": "A"},
				map[string]any{"name": "B"},
			}},
			map[string]any{"name": "Ops"},
		},
	}, weft.CascadeOptions{Cascade: true, MaxDepth: 3, Concurrency: 2, OnProgress: log.record})
	require.NoError(t, err)

	require.NotEmpty(t, log.events)
	assert.Equal(t, weft.PhasePlanning, log.events[0].Phase)
	assert.Equal(t, weft.PhaseComplete, log.events[len(log.events)-1].Phase)

	prev := 0
	createdEvents := 0
	for _, ev := range log.events {
		assert.GreaterOrEqual(t, ev.TotalEntitiesCreated, prev,
			"totalEntitiesCreated must never decrease")
		if ev.Phase == weft.PhaseCreated {
			createdEvents++
			assert.Greater(t, ev.TotalEntitiesCreated, prev,
				"each created event must raise the total")
			prev = ev.TotalEntitiesCreated
		}
	}
	// 1 company + 2 departments + 3 teams (A, B, and Ops's unseeded one).
	assert.Equal(t, 6, createdEvents)
	assert.Equal(t, 6, log.events[len(log.events)-1].TotalEntitiesCreated)
}

func TestCascadeDepthBound(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(cascadeGraph(t), p)
	defer rt.Close()

	_, err := rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name": "Acme",
		"departments": []any{
			map[string]any{"name": "Eng", "teams": []any{map[string]any{"name": "A"}}},
		},
	}, weft.CascadeOptions{Cascade: true, MaxDepth: 1})
	require.NoError(t, err)

	depts, err := p.List(ctx, "Department", weft.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, depts, 1)
	teams, err := p.List(ctx, "Team", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, teams, "depth 2 exceeds maxDepth 1")
}

func TestCascadeDisabled(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	rt := weft.New(cascadeGraph(t), p)
	defer rt.Close()

	root, err := rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name":        "Acme",
		"departments": []any{map[string]any{"name": "Eng"}},
	}, weft.CascadeOptions{})
	require.NoError(t, err)

	depts, err := p.List(ctx, "Department", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, depts)

	// The nested partial is consumed, never stored as a field value.
	stored, err := p.Get(ctx, "Company", root.ID())
	require.NoError(t, err)
	assert.NotContains(t, stored, "departments")
}

func TestCascadeBranchFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		if req.EntityType == "Team" {
			return nil, errors.New("model unavailable")
		}
		return weft.Record{}, nil
	})
	rt := weft.New(cascadeGraph(t), p, weft.WithGenerator(gen))
	defer rt.Close()

	var (
		mu       sync.Mutex
		branches []weft.BranchContext
	)
	root, err := rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name": "Acme",
		"departments": []any{
			map[string]any{"name": "Eng", "teams": []any{map[string]any{}}},
			map[string]any{"name": "Sales", "teams": []any{map[string]any{}}},
		},
	}, weft.CascadeOptions{
		Cascade:  true,
		MaxDepth: 3,
		OnError: func(err error, bc weft.BranchContext) {
			mu.Lock()
			branches = append(branches, bc)
			mu.Unlock()
		},
	})
	require.NoError(t, err, "branch failures never fail the cascade")
	require.NotNil(t, root)

	depts, err := p.List(ctx, "Department", weft.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, depts, 2, "sibling branches proceed past the failed one")
	teams, err := p.List(ctx, "Team", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, teams)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, branches)
	for _, bc := range branches {
		assert.Equal(t, "Team", bc.Type)
		assert.Equal(t, "teams", bc.Field)
		assert.Equal(t, 2, bc.Depth)
	}
}

func TestCascadeRootFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		return nil, errors.New("model unavailable")
	})
	rt := weft.New(cascadeGraph(t), p, weft.WithGenerator(gen))
	defer rt.Close()

	// The root's missing "name" forces generation, which fails.
	_, err := rt.CreateWithCascade(ctx, "Company", weft.Record{}, weft.CascadeOptions{})
	require.Error(t, err)
	assert.True(t, weft.IsGenerationError(err))

	companies, err := p.List(ctx, "Company", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, companies)
}

func TestCascadeScalarGeneration(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		out := weft.Record{}
		for name := range req.Fields {
			out[name] = "generated " + name
		}
		return out, nil
	})
	rt := weft.New(cascadeGraph(t), p, weft.WithGenerator(gen))
	defer rt.Close()

	root, err := rt.CreateWithCascade(ctx, "Company", weft.Record{}, weft.CascadeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "generated name", root.Field("name"))

	stored, err := p.Get(ctx, "Company", root.ID())
	require.NoError(t, err)
	assert.Equal(t, "generated name", stored["name"])
}

func TestCascadeInstructionsInterpolation(t *testing.T) {
	ctx := context.Background()
	g, err := graph.Build(map[string]any{
		"Company": map[string]any{
			"name":        "string",
			"departments": []string{"->Department"},
		},
		"Department": map[string]any{
			"$instructions": "a department of {parent.name}",
			"name":          "string",
		},
	})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		prompts []string
	)
	gen := weft.GeneratorFunc(func(ctx context.Context, req weft.GenerateRequest) (weft.Record, error) {
		if req.EntityType == "Department" {
			mu.Lock()
			prompts = append(prompts, req.Prompt)
			mu.Unlock()
		}
		out := weft.Record{}
		for name := range req.Fields {
			out[name] = name
		}
		return out, nil
	})
	rt := weft.New(g, memory.New(), weft.WithGenerator(gen))
	defer rt.Close()

	_, err = rt.CreateWithCascade(ctx, "Company", weft.Record{
		"name":        "Acme",
		"departments": []any{map[string]any{}},
	}, weft.CascadeOptions{Cascade: true, MaxDepth: 2})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 1)
	assert.Equal(t, "a department of Acme", prompts[0])
}

func TestCascadeCancellation(t *testing.T) {
	p := memory.New()
	rt := weft.New(cascadeGraph(t), p)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.CreateWithCascade(ctx, "Company", weft.Record{"name": "Acme"}, weft.CascadeOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	companies, err := p.List(context.Background(), "Company", weft.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, companies)
}

// Four fuzzy branches of one record resolve in parallel and each writes a
// link id back onto the shared entity; run enough rounds that the branches
// actually interleave.
func TestCascadeParallelFuzzyLinks(t *testing.T) {
	ctx := context.Background()
	g, err := graph.Build(map[string]any{
		"Article": map[string]any{
			"title":    "string",
			"topic":    "subject matter~>Topic",
			"audience": "intended readers~>Audience",
			"tone":     "voice of the piece~>Tone",
			"section":  "site section~>Section",
		},
		"Topic":    map[string]any{"name": "string"},
		"Audience": map[string]any{"name": "string"},
		"Tone":     map[string]any{"name": "string"},
		"Section":  map[string]any{"name": "string"},
	})
	require.NoError(t, err)

	for round := 0; round < 25; round++ {
		p := memory.New()
		rt := weft.New(g, p)

		require.NoError(t, p.Seed(ctx, "Topic", []weft.Record{{"$id": "t1", "name": "distributed systems"}}))
		require.NoError(t, p.Seed(ctx, "Audience", []weft.Record{{"$id": "a1", "name": "backend engineers"}}))
		require.NoError(t, p.Seed(ctx, "Tone", []weft.Record{{"$id": "o1", "name": "pragmatic"}}))
		require.NoError(t, p.Seed(ctx, "Section", []weft.Record{{"$id": "s1", "name": "engineering blog"}}))

		art, err := rt.CreateWithCascade(ctx, "Article", weft.Record{
			"title":        "Consensus in practice",
			"topicHint":    "distributed systems",
			"audienceHint": "backend engineers",
			"toneHint":     "pragmatic",
			"sectionHint":  "engineering blog",
		}, weft.CascadeOptions{Cascade: true, MaxDepth: 2, Concurrency: 4})
		require.NoError(t, err)

		stored, err := p.Get(ctx, "Article", art.ID())
		require.NoError(t, err)
		assert.Equal(t, "t1", stored["topic"])
		assert.Equal(t, "a1", stored["audience"])
		assert.Equal(t, "o1", stored["tone"])
		assert.Equal(t, "s1", stored["section"])

		rt.Close()
	}
}

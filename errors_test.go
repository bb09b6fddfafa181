package weft_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft"
)

func TestNotFoundError(t *testing.T) {
	err := weft.NewNotFoundError("posts", "p1")
	assert.EqualError(t, err, "weft: posts not found (id=p1)")
	assert.True(t, weft.IsNotFound(err))
	assert.ErrorIs(t, err, weft.ErrNotFound)

	assert.EqualError(t, weft.NewNotFoundError("posts", ""), "weft: posts not found")

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, weft.IsNotFound(wrapped))
	assert.False(t, weft.IsNotFound(nil))
	assert.False(t, weft.IsNotFound(errors.New("other")))
}

func TestCapabilityError(t *testing.T) {
	err := weft.NewCapabilityError(weft.CapSemanticSearch, "", "plain text search via Search")
	assert.True(t, weft.IsCapabilityError(err))
	assert.Contains(t, err.Error(), "semanticSearch")
	assert.Contains(t, err.Error(), "alternative: plain text search via Search")

	bare := weft.NewCapabilityError(weft.CapActions, "no action queue", "")
	assert.EqualError(t, bare, "weft: no action queue")
	assert.False(t, weft.IsCapabilityError(nil))
}

func TestResolutionError(t *testing.T) {
	cause := weft.NewNotFoundError("users", "u1")
	err := weft.NewResolutionError("posts", "p1", "author", cause)
	assert.True(t, weft.IsResolutionError(err))
	assert.Contains(t, err.Error(), "posts.author")

	// The cause stays reachable through the chain.
	assert.True(t, weft.IsNotFound(err))
	var nf *weft.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "u1", nf.ID)
}

func TestGenerationError(t *testing.T) {
	cause := errors.New("model unavailable")
	err := weft.NewGenerationError("Category", cause)
	assert.True(t, weft.IsGenerationError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "generating Category")
}

func TestCommitError(t *testing.T) {
	cause := errors.New("disk full")
	err := &weft.CommitError{Index: 2, Op: "update", Err: cause}
	assert.True(t, weft.IsCommitError(err))
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "weft: commit failed at op 2 (update): disk full")
}

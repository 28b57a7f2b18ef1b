package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A nil *Client is the "not configured" state; every method must degrade to
// a graceful no-op error rather than panicking, since callers hold nil when
// no API key is set.

func TestNilClientIsUnavailable(t *testing.T) {
	var c *Client
	assert.False(t, c.Available())

	_, err := c.Complete(context.Background(), "hi", 10)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = c.CheckContradiction(context.Background(), "x", []string{"y"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.CheckCommitmentCompleteness(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.RewriteForConcision(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.SuggestFromMemories(context.Background(), []string{"x"}, 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewWithoutAPIKeyReturnsNil(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	c, err := New("some-model")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.False(t, c.Available())
}

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndKind(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(KindTransient, "graph.upsert", base)

	assert.Equal(t, KindTransient, KindOf(err))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "graph.upsert")
	assert.Nil(t, Wrap(KindTransient, "noop", nil))
}

func TestIsWalksNestedKinds(t *testing.T) {
	inner := New(KindConsistency, "tasks.link", "cycle")
	outer := Wrap(KindTransient, "save", fmt.Errorf("context: %w", inner))

	assert.True(t, Is(outer, KindTransient))
	assert.True(t, Is(outer, KindConsistency))
	assert.False(t, Is(outer, KindPermanent))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

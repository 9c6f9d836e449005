// ABOUTME: Tests for the pending challenge registry
// ABOUTME: Covers replacement, copy semantics, removal, and failure counting

package auth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGetRemove(t *testing.T) {
	reg := NewPendingChallengeRegistry()

	_, ok := reg.Get("a@b.com")
	assert.False(t, ok)

	reg.Put(Challenge{ID: "ch-1", Identity: "a@b.com"})

	ch, ok := reg.Get("a@b.com")
	require.True(t, ok)
	assert.Equal(t, "ch-1", ch.ID)
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Remove("a@b.com"))
	assert.False(t, reg.Remove("a@b.com"))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_PutReplaces(t *testing.T) {
	reg := NewPendingChallengeRegistry()

	reg.Put(Challenge{ID: "ch-1", Identity: "a@b.com"})
	reg.Put(Challenge{ID: "ch-2", Identity: "a@b.com"})

	ch, ok := reg.Get("a@b.com")
	require.True(t, ok)
	assert.Equal(t, "ch-2", ch.ID, "at most one challenge per identity")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewPendingChallengeRegistry()
	reg.Put(Challenge{ID: "ch-1", Identity: "a@b.com"})

	ch, _ := reg.Get("a@b.com")
	ch.Attempts = 99

	fresh, _ := reg.Get("a@b.com")
	assert.Equal(t, 0, fresh.Attempts, "mutating a returned challenge must not affect the registry")
}

func TestRegistry_RecordFailure(t *testing.T) {
	reg := NewPendingChallengeRegistry()

	assert.Equal(t, 0, reg.RecordFailure("absent@b.com"))

	reg.Put(Challenge{ID: "ch-1", Identity: "a@b.com"})
	assert.Equal(t, 1, reg.RecordFailure("a@b.com"))
	assert.Equal(t, 2, reg.RecordFailure("a@b.com"))

	ch, _ := reg.Get("a@b.com")
	assert.Equal(t, 2, ch.Attempts)
}

func TestRegistry_IdentitiesSorted(t *testing.T) {
	reg := NewPendingChallengeRegistry()
	reg.Put(Challenge{ID: "2", Identity: "zoe@example.com"})
	reg.Put(Challenge{ID: "1", Identity: "amy@example.com"})

	assert.Equal(t, []string{"amy@example.com", "zoe@example.com"}, reg.Identities())
}

func TestRegistry_IndependentIdentities(t *testing.T) {
	reg := NewPendingChallengeRegistry()

	var wg sync.WaitGroup
	identities := []string{"a@b.com", "c@d.com", "e@f.com", "g@h.com"}
	for _, id := range identities {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			reg.Put(Challenge{ID: "ch-" + id, Identity: id})
			reg.RecordFailure(id)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, len(identities), reg.Len())
	for _, id := range identities {
		ch, ok := reg.Get(id)
		require.True(t, ok, "identity %s", id)
		assert.Equal(t, 1, ch.Attempts)
	}
}

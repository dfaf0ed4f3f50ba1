package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_PerIPLimit(t *testing.T) {
	tr := NewTracker(Limits{MaxConnections: 0, MaxConnectionsPerIP: 2})
	assert.True(t, tr.TryAcquire("1.1.1.1"))
	assert.True(t, tr.TryAcquire("1.1.1.1"))
	assert.False(t, tr.TryAcquire("1.1.1.1"))

	tr.Release("1.1.1.1")
	assert.True(t, tr.TryAcquire("1.1.1.1"))
}

func TestTracker_GlobalLimit(t *testing.T) {
	tr := NewTracker(Limits{MaxConnections: 1, MaxConnectionsPerIP: 0})
	assert.True(t, tr.TryAcquire("1.1.1.1"))
	assert.False(t, tr.TryAcquire("2.2.2.2"))

	tr.Release("1.1.1.1")
	assert.True(t, tr.TryAcquire("2.2.2.2"))
}

func TestTracker_ZeroMeansUnlimited(t *testing.T) {
	tr := NewTracker(Limits{})
	for range 1000 {
		assert.True(t, tr.TryAcquire("1.1.1.1"))
	}
}

func TestTracker_PruneRemovesStaleZeroEntries(t *testing.T) {
	tr := NewTracker(Limits{MaxConnectionsPerIP: 5})
	tr.TryAcquire("1.1.1.1")
	tr.Release("1.1.1.1")
	assert.Equal(t, 0, tr.PerIPActive("1.1.1.1"))

	tr.lastTouched["1.1.1.1"] = time.Now().Add(-time.Hour)
	tr.perIP["1.1.1.1"] = 0
	tr.Prune(time.Minute)

	tr.mu.Lock()
	_, exists := tr.perIP["1.1.1.1"]
	tr.mu.Unlock()
	assert.False(t, exists)
}

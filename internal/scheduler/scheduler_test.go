package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webegress/gateway/internal/admission"
	"github.com/webegress/gateway/internal/dnsresolve"
)

func TestScheduler_StartAndStopWithNilDeps(t *testing.T) {
	s := New(nil, nil, nil)
	require.NoError(t, s.Start(nil, nil))
	s.Stop()
}

func TestScheduler_StartsWithCacheAndTracker(t *testing.T) {
	cache := dnsresolve.NewCache(10, time.Hour, time.Minute)
	tracker := admission.NewTracker(admission.Limits{})

	s := New(cache, tracker, nil)
	require.NoError(t, s.Start(cache, tracker))
	defer s.Stop()

	assert.NotNil(t, s.cron)
}

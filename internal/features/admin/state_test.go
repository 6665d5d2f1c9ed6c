package admin_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"account-api/internal/features/admin"
)

func TestRegistryAuthLifecycle(t *testing.T) {
	r := admin.NewRegistry()

	require.False(t, r.IsAuthenticated("c1"))
	require.Equal(t, admin.PhaseUnauthenticated, r.State("c1").Phase)

	r.SetChallenge("c1")
	require.Equal(t, admin.PhaseChallengeIssued, r.State("c1").Phase)
	require.False(t, r.IsAuthenticated("c1"))

	r.SetAuthenticated("c1", time.Now().Add(time.Minute))
	require.True(t, r.IsAuthenticated("c1"))

	r.Clear("c1")
	require.False(t, r.IsAuthenticated("c1"))
}

func TestRegistryLazyExpiry(t *testing.T) {
	r := admin.NewRegistry()

	r.SetAuthenticated("c1", time.Now().Add(-time.Second))
	require.False(t, r.IsAuthenticated("c1"))
	require.Equal(t, admin.PhaseUnauthenticated, r.State("c1").Phase)
}

func TestRegistryResetPhaseKeepsWaitlist(t *testing.T) {
	r := admin.NewRegistry()

	r.SetChallenge("c1")
	r.RecordFailure("c1", time.Hour, 2*time.Hour, 5)
	r.ResetPhase("c1")

	require.Equal(t, admin.PhaseUnauthenticated, r.State("c1").Phase)
	notBefore, ok := r.RetryNotBefore("c1")
	require.True(t, ok)
	require.True(t, notBefore.After(time.Now()))
}

func TestRegistryRetryUsesLastRecord(t *testing.T) {
	r := admin.NewRegistry()

	// Первая запись далеко в будущем, вторая уже в прошлом:
	// действовать должна именно последняя
	r.RecordFailure("c1", time.Hour, 2*time.Hour, 5)
	r.RecordFailure("c1", -time.Second, 2*time.Hour, 5)

	notBefore, ok := r.RetryNotBefore("c1")
	require.True(t, ok)
	require.True(t, notBefore.Before(time.Now()))
}

func TestRegistryFailureEscalation(t *testing.T) {
	r := admin.NewRegistry()
	const maxAttempts = 3

	for i := 0; i < maxAttempts; i++ {
		r.RecordFailure("c1", time.Millisecond, time.Hour, maxAttempts)
	}
	notBefore, ok := r.RetryNotBefore("c1")
	require.True(t, ok)
	require.True(t, notBefore.Before(time.Now().Add(time.Second)), "до порога действует короткая пауза")

	// Следующая неудача перешагивает порог и получает жёсткую блокировку
	r.RecordFailure("c1", time.Millisecond, time.Hour, maxAttempts)
	notBefore, ok = r.RetryNotBefore("c1")
	require.True(t, ok)
	require.True(t, notBefore.After(time.Now().Add(30*time.Minute)))
}

func TestRegistryDrop(t *testing.T) {
	r := admin.NewRegistry()

	r.SetAuthenticated("c1", time.Now().Add(time.Minute))
	r.RecordFailure("c1", time.Hour, 2*time.Hour, 5)
	r.Drop("c1")

	require.False(t, r.IsAuthenticated("c1"))
	_, ok := r.RetryNotBefore("c1")
	require.False(t, ok)
}

package executions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorder_SuccessFlow(t *testing.T) {
	db := testDBExec(t)
	var seen []Status
	rec := NewRecorder(NewStore(db), func(e *Execution) { seen = append(seen, e.Status) })

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	rec.now = func() time.Time { return clock }

	ctx := context.Background()
	exec, err := rec.Begin(ctx, "sched-1", 3, TriggerTimer)
	require.NoError(t, err)

	clock = start.Add(2500 * time.Millisecond)
	require.NoError(t, rec.Succeed(ctx, exec, 4, 2, ""))

	require.Equal(t, []Status{StatusRunning, StatusSuccess}, seen)
	require.Equal(t, StatusSuccess, exec.Status)
	require.InDelta(t, 2.5, *exec.DurationSeconds, 0.0001)

	got, err := rec.Store().Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, 4, *got.TicketsCount)
	require.Equal(t, 2, *got.RecipientsCount)
}

func TestRecorder_FailFlow(t *testing.T) {
	db := testDBExec(t)
	rec := NewRecorder(NewStore(db))
	ctx := context.Background()

	exec, err := rec.Begin(ctx, "sched-1", 3, TriggerManual)
	require.NoError(t, err)

	require.NoError(t, rec.Fail(ctx, exec, errors.New("email delivery failed: 550 mailbox unavailable")))

	got, err := rec.Store().Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "email delivery failed: 550 mailbox unavailable", got.ErrorMessage)

	// A second terminal write is rejected and the first result stands.
	err = rec.Succeed(ctx, exec, 1, 1, "")
	require.ErrorIs(t, err, ErrAlreadyFinalized)
}

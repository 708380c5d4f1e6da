package executions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/database"
)

func testDBExec(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func insertSchedule(t *testing.T, db *database.DB, id, name string) {
	t.Helper()

	now := database.Now()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO scheduled_reports (id, company_id, name, schedule_type, cron_expression, recipients, created_at, updated_at)
		VALUES (?, 1, ?, 'cron', '0 9 * * *', '["ops@example.com"]', ?, ?)
	`, id, name, now, now)
	require.NoError(t, err)
}

func TestStore_StartAndGet(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()
	insertSchedule(t, db, "sched-1", "Daily digest")

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	exec, err := store.Start(ctx, "sched-1", 7, TriggerTimer, at)
	require.NoError(t, err)
	require.NotEmpty(t, exec.ID)
	require.Equal(t, StatusRunning, exec.Status)

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, "sched-1", got.ScheduleID)
	require.Equal(t, "Daily digest", got.ScheduleName)
	require.Equal(t, int64(7), got.CompanyID)
	require.Equal(t, TriggerTimer, got.Trigger)
	require.Equal(t, StatusRunning, got.Status)
	require.True(t, got.ExecutionTime.Equal(at))
	require.Nil(t, got.CompletedAt)
	require.Nil(t, got.TicketsCount)
}

func TestStore_FinalizeSuccess(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	exec, err := store.Start(ctx, "sched-1", 1, TriggerManual, at)
	require.NoError(t, err)

	err = store.Finalize(ctx, exec.ID, Outcome{
		Status:          StatusSuccess,
		CompletedAt:     at.Add(3 * time.Second),
		Duration:        3 * time.Second,
		TicketsCount:    12,
		RecipientsCount: 3,
		ArchiveKey:      "reports/sched-1/x.html.gz",
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.TicketsCount)
	require.Equal(t, 12, *got.TicketsCount)
	require.Equal(t, 3, *got.RecipientsCount)
	require.InDelta(t, 3.0, *got.DurationSeconds, 0.001)
	require.Empty(t, got.ErrorMessage)
	require.Equal(t, "reports/sched-1/x.html.gz", got.ArchiveKey)
	// Schedule row does not exist, name falls back to empty.
	require.Empty(t, got.ScheduleName)
}

func TestStore_FinalizeOnlyOnce(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	exec, err := store.Start(ctx, "sched-1", 1, TriggerTimer, time.Now())
	require.NoError(t, err)

	err = store.Finalize(ctx, exec.ID, Outcome{Status: StatusFailed, CompletedAt: time.Now(), ErrorMessage: "ticket query failed: boom"})
	require.NoError(t, err)

	err = store.Finalize(ctx, exec.ID, Outcome{Status: StatusSuccess, CompletedAt: time.Now()})
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "ticket query failed: boom", got.ErrorMessage)
	require.Nil(t, got.TicketsCount)
}

func TestStore_FinalizeErrors(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	err := store.Finalize(ctx, "missing", Outcome{Status: StatusSuccess, CompletedAt: time.Now()})
	require.ErrorIs(t, err, ErrNotFound)

	err = store.Finalize(ctx, "missing", Outcome{Status: StatusRunning})
	require.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestStore_Get_NotFound(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)

	_, err := store.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListBySchedule(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		exec, err := store.Start(ctx, "sched-a", 1, TriggerTimer, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, exec.ID)
	}
	_, err := store.Start(ctx, "sched-b", 1, TriggerTimer, base)
	require.NoError(t, err)

	list, err := store.ListBySchedule(ctx, "sched-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		require.True(t, list[i-1].ExecutionTime.After(list[i].ExecutionTime), "expected newest first")
	}
	require.Equal(t, ids[4], list[0].ID)

	page, err := store.ListBySchedule(ctx, "sched-a", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)

	empty, err := store.ListBySchedule(ctx, "unknown", 10, 0)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestStore_Recent(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	e1, err := store.Start(ctx, "s1", 1, TriggerTimer, base)
	require.NoError(t, err)
	e2, err := store.Start(ctx, "s2", 2, TriggerTimer, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = store.Start(ctx, "s3", 1, TriggerManual, base.Add(2*time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.Finalize(ctx, e1.ID, Outcome{Status: StatusFailed, CompletedAt: base, ErrorMessage: "x"}))
	require.NoError(t, store.Finalize(ctx, e2.ID, Outcome{Status: StatusSuccess, CompletedAt: base}))

	all, err := store.Recent(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	company, err := store.Recent(ctx, ListFilter{CompanyID: 1})
	require.NoError(t, err)
	require.Len(t, company, 2)

	failed, err := store.Recent(ctx, ListFilter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, e1.ID, failed[0].ID)

	limited, err := store.Recent(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "s3", limited[0].ScheduleID)
}

func TestStore_HasRunningAndFailRunning(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Minute)
	exec, err := store.Start(ctx, "sched-1", 1, TriggerTimer, start)
	require.NoError(t, err)

	running, err := store.HasRunning(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, running)

	n, err := store.FailRunning(ctx, "interrupted by restart", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	running, err = store.HasRunning(ctx, "sched-1")
	require.NoError(t, err)
	require.False(t, running)

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "interrupted by restart", got.ErrorMessage)
	require.NotNil(t, got.DurationSeconds)
	require.InDelta(t, 60.0, *got.DurationSeconds, 5.0)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	db := testDBExec(t)
	store := NewStore(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	oldDone, err := store.Start(ctx, "s", 1, TriggerTimer, old)
	require.NoError(t, err)
	require.NoError(t, store.Finalize(ctx, oldDone.ID, Outcome{Status: StatusSuccess, CompletedAt: old}))

	oldRunning, err := store.Start(ctx, "s", 1, TriggerTimer, old)
	require.NoError(t, err)

	fresh, err := store.Start(ctx, "s", 1, TriggerTimer, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.Finalize(ctx, fresh.ID, Outcome{Status: StatusSuccess, CompletedAt: time.Now()}))

	n, err := store.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = store.Get(ctx, oldDone.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, oldRunning.ID)
	require.NoError(t, err)
	_, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
}

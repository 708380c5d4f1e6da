package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/mailer"
	"github.com/ticketdesk/reportd/internal/report"
	"github.com/ticketdesk/reportd/internal/tickets"
)

type fakeTickets struct {
	mu    sync.Mutex
	list  []tickets.Ticket
	err   error
	calls int
}

func (f *fakeTickets) Query(_ context.Context, companyID int64, _ tickets.Filters) ([]tickets.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]tickets.Ticket, 0, len(f.list))
	for _, tk := range f.list {
		if tk.CompanyID == companyID {
			out = append(out, tk)
		}
	}
	return out, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*mailer.Message
	err  error
	boom string
	gate chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeMailer) Send(ctx context.Context, msg *mailer.Message) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.boom != "" {
		panic(f.boom)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) Sent() []*mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mailer.Message(nil), f.sent...)
}

type fakeArchive struct {
	mu   sync.Mutex
	docs map[string][]byte
	err  error
}

func (f *fakeArchive) Store(_ context.Context, scheduleID, executionID string, _ time.Time, html []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	key := "reports/" + scheduleID + "/" + executionID + ".html"
	if f.docs == nil {
		f.docs = make(map[string][]byte)
	}
	f.docs[key] = html
	return key, nil
}

type testEnv struct {
	sched   *Scheduler
	store   *Store
	execs   *executions.Store
	tickets *fakeTickets
	mailer  *fakeMailer
	archive *fakeArchive
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:      false,
		TickInterval: time.Minute,
		Workers:      2,
		QueueSize:    10,
		BatchSize:    10,
	}
}

func newTestEnv(t *testing.T, cfg config.SchedulerConfig) *testEnv {
	t.Helper()

	store := testStore(t)
	execs := executions.NewStore(store.db)

	renderer, err := report.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	env := &testEnv{
		store: store,
		execs: execs,
		tickets: &fakeTickets{list: []tickets.Ticket{
			{ID: 1, CompanyID: 42, TicketNumber: "T-1", Status: "open", Category: "billing", Priority: "high"},
			{ID: 2, CompanyID: 42, TicketNumber: "T-2", Status: "open", Category: "support", Priority: "low"},
			{ID: 3, CompanyID: 7, TicketNumber: "T-3", Status: "open", Category: "support"},
		}},
		mailer:  &fakeMailer{},
		archive: &fakeArchive{},
	}

	runner := NewRunner(RunnerConfig{
		Store:        store,
		Recorder:     executions.NewRecorder(execs),
		Tickets:      env.tickets,
		Filters:      store.validator.filters,
		Renderer:     renderer,
		Mailer:       env.mailer,
		Archive:      env.archive,
		EmailTimeout: 5 * time.Second,
	})

	env.sched = New(cfg, store, execs, runner)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.sched.Stop(ctx)
	})

	return env
}

func (e *testEnv) create(t *testing.T, mutate func(in *ScheduleInput)) *Schedule {
	t.Helper()

	in := dailyInput()
	if mutate != nil {
		mutate(in)
	}
	s, err := e.store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func (e *testEnv) reload(t *testing.T, id string) *Schedule {
	t.Helper()

	s, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunner_Success(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, nil)

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if exec.Status != executions.StatusSuccess {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.ErrorMessage)
	}
	if exec.Trigger != executions.TriggerManual {
		t.Errorf("trigger = %q, want manual", exec.Trigger)
	}
	if exec.TicketsCount == nil || *exec.TicketsCount != 2 {
		t.Errorf("tickets_count = %v, want 2", exec.TicketsCount)
	}
	if exec.RecipientsCount == nil || *exec.RecipientsCount != 2 {
		t.Errorf("recipients_count = %v, want 2", exec.RecipientsCount)
	}
	if exec.ArchiveKey == "" {
		t.Error("archive_key should be set")
	}

	sent := env.mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if sent[0].To[0] != "ops@example.com" || sent[0].Cc[0] != "lead@example.com" {
		t.Errorf("email addressed to %v cc %v", sent[0].To, sent[0].Cc)
	}
	if sent[0].Subject == "" || sent[0].HTML == "" {
		t.Error("email should carry a subject and HTML body")
	}

	stored, err := env.execs.Get(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("execs.Get() error = %v", err)
	}
	if stored.Status != executions.StatusSuccess || stored.CompletedAt == nil {
		t.Errorf("stored execution = %+v", stored)
	}

	// A manual run ahead of the pending slot consumes it.
	after := env.reload(t, schedule.ID)
	if after.LastRun == nil {
		t.Fatal("last_run should be set")
	}
	if want := schedule.NextRun.Add(24 * time.Hour); !after.NextRun.Equal(want) {
		t.Errorf("next_run = %v, want %v", after.NextRun, want)
	}
}

func TestRunner_FilterExpression(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, func(in *ScheduleInput) {
		in.Filters = &tickets.Filters{Expression: `priority == "high"`}
	})

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.TicketsCount == nil || *exec.TicketsCount != 1 {
		t.Errorf("tickets_count = %v, want 1", exec.TicketsCount)
	}
}

func TestRunner_TicketQueryFailure(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	env.tickets.err = errors.New("connection refused")
	schedule := env.create(t, nil)

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if exec.Status != executions.StatusFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "ticket query failed") || !strings.Contains(exec.ErrorMessage, "connection refused") {
		t.Errorf("error_message = %q", exec.ErrorMessage)
	}
	if exec.TicketsCount != nil {
		t.Errorf("failed run should not record tickets_count, got %v", *exec.TicketsCount)
	}
	if len(env.mailer.Sent()) != 0 {
		t.Error("no email should be sent when the ticket query fails")
	}

	after := env.reload(t, schedule.ID)
	if after.NextRun == nil || !after.NextRun.After(*schedule.NextRun) {
		t.Errorf("next_run should still advance, got %v", after.NextRun)
	}
}

func TestRunner_EmailFailure(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	env.mailer.err = errors.New("535 authentication failed")
	schedule := env.create(t, nil)

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if exec.Status != executions.StatusFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if !strings.HasPrefix(exec.ErrorMessage, "email delivery failed") {
		t.Errorf("error_message = %q", exec.ErrorMessage)
	}
	if exec.ArchiveKey != "" {
		t.Error("undelivered reports should not be archived")
	}
}

func TestRunner_ArchiveFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	env.archive.err = errors.New("bucket missing")
	schedule := env.create(t, nil)

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.Status != executions.StatusSuccess {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.ErrorMessage)
	}
	if exec.ArchiveKey != "" {
		t.Errorf("archive_key = %q, want empty", exec.ArchiveKey)
	}
}

func TestRunner_PanicIsRecorded(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	env.mailer.boom = "smtp client exploded"
	schedule := env.create(t, nil)

	exec, err := env.sched.RunNow(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.Status != executions.StatusFailed {
		t.Fatalf("status = %q, want failed", exec.Status)
	}
	if !strings.Contains(exec.ErrorMessage, "smtp client exploded") {
		t.Errorf("error_message = %q", exec.ErrorMessage)
	}

	running, err := env.execs.HasRunning(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("HasRunning() error = %v", err)
	}
	if running {
		t.Error("panicking run left an execution in running state")
	}
	if env.sched.locks.Held(schedule.ID) {
		t.Error("panicking run left the schedule locked")
	}
}

func TestRunner_RunDue(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, nil)
	ctx := context.Background()

	exec, err := env.sched.runner.RunDue(ctx, schedule.ID, schedule.NextRun.Add(-time.Minute))
	if err != nil || exec != nil {
		t.Fatalf("RunDue() before next_run = %v, %v; want nil, nil", exec, err)
	}
	if sent := len(env.mailer.Sent()); sent != 0 {
		t.Fatalf("RunDue() before next_run sent %d emails", sent)
	}

	exec, err = env.sched.runner.RunDue(ctx, schedule.ID, *schedule.NextRun)
	if err != nil {
		t.Fatalf("RunDue() at next_run error = %v", err)
	}
	if exec == nil || exec.Status != executions.StatusSuccess {
		t.Fatalf("RunDue() at next_run = %+v, want success", exec)
	}
	if exec.Trigger != executions.TriggerTimer {
		t.Errorf("trigger = %q, want %q", exec.Trigger, executions.TriggerTimer)
	}
}

func TestRunner_InactiveSchedule(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, func(in *ScheduleInput) { in.IsActive = ptr(false) })
	ctx := context.Background()

	exec, err := env.sched.runner.Run(ctx, schedule.ID, executions.TriggerTimer)
	if err != nil || exec != nil {
		t.Fatalf("timer run of inactive schedule = %v, %v; want nil, nil", exec, err)
	}

	history, err := env.execs.ListBySchedule(ctx, schedule.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListBySchedule() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("inactive timer run recorded %d executions", len(history))
	}

	manual, err := env.sched.RunNow(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if manual.Status != executions.StatusSuccess {
		t.Errorf("manual run of inactive schedule status = %q", manual.Status)
	}
}

func TestRunner_UnknownSchedule(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())

	if _, err := env.sched.RunNow(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RunNow() error = %v, want ErrNotFound", err)
	}
}

func TestRunner_IntervalAdvances(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, func(in *ScheduleInput) {
		in.CronExpression = nil
		in.IntervalMinutes = ptr(60)
	})

	if _, err := env.sched.RunNow(context.Background(), schedule.ID); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	after := env.reload(t, schedule.ID)
	if !after.NextRun.After(*schedule.NextRun) {
		t.Errorf("next_run %v should be after %v", after.NextRun, schedule.NextRun)
	}
	if after.NextRun.Sub(*after.LastRun) > 2*time.Hour {
		t.Errorf("next_run %v too far from last_run %v", after.NextRun, after.LastRun)
	}
}

func TestRunner_FlagsUnschedulable(t *testing.T) {
	env := newTestEnv(t, testSchedulerConfig())
	schedule := env.create(t, nil)
	ctx := context.Background()

	// Definitions written before validation existed can still reach the runner.
	if _, err := env.store.db.ExecContext(ctx,
		`UPDATE scheduled_reports SET cron_expression = '0 0 30 2 *' WHERE id = ?`, schedule.ID); err != nil {
		t.Fatalf("update error = %v", err)
	}

	exec, err := env.sched.RunNow(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.Status != executions.StatusSuccess {
		t.Errorf("status = %q, the run itself should succeed", exec.Status)
	}

	after := env.reload(t, schedule.ID)
	if after.SchedulingError == "" {
		t.Fatal("schedule should be flagged")
	}
	if after.LastRun == nil {
		t.Error("last_run should be recorded on a flagged schedule")
	}

	due, err := env.store.GetDue(ctx, time.Now().AddDate(10, 0, 0), 10)
	if err != nil {
		t.Fatalf("GetDue() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("flagged schedule should not be due, got %d", len(due))
	}
}

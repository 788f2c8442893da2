package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/torque/internal/domain"
	"github.com/thruflo/torque/internal/store"
)

func pendingTask() *domain.Task {
	return &domain.Task{
		ID:            uuid.New(),
		URL:           "http://example.com/hook",
		Body:          []byte("x"),
		Headers:       map[string]string{"Content-Type": "text/plain"},
		Status:        domain.StatusPending,
		DueAt:         time.Now().Add(-time.Second),
		Timeout:       30 * time.Second,
		BackoffPolicy: domain.BackoffExponential,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()

	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("Insert() err = %v, want nil", err)
	}
	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get() err = %v, want nil", err)
	}
	if got.Status != domain.StatusPending || got.Attempts != 0 {
		t.Fatalf("Get() = status %s attempts %d, want pending/0", got.Status, got.Attempts)
	}
	if got.URL != in.URL || string(got.Body) != string(in.Body) {
		t.Fatalf("Get() returned unexpected task: %+v", got)
	}

	if err := s.Insert(ctx, in); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Insert() duplicate err = %v, want ErrConflict", err)
	}
}

func TestClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	_ = s.Insert(ctx, in)

	now := time.Now()
	got, err := s.Claim(ctx, in.ID, now, time.Minute)
	if err != nil {
		t.Fatalf("Claim() err = %v, want nil", err)
	}
	if got.Status != domain.StatusExecuting || got.Attempts != 1 {
		t.Fatalf("Claim() = status %s attempts %d, want executing/1", got.Status, got.Attempts)
	}
	if got.ClaimedUntil == nil || !got.ClaimedUntil.After(now) {
		t.Fatal("Claim() did not set claimed_until in the future")
	}

	// 占用期内二次认领被拒
	if _, err := s.Claim(ctx, in.ID, now.Add(time.Second), time.Minute); !errors.Is(err, store.ErrNotClaimable) {
		t.Fatalf("Claim() while claimed err = %v, want ErrNotClaimable", err)
	}
}

func TestClaim_NotDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	in.DueAt = time.Now().Add(time.Hour)
	_ = s.Insert(ctx, in)

	if _, err := s.Claim(ctx, in.ID, time.Now(), time.Minute); !errors.Is(err, store.ErrNotClaimable) {
		t.Fatalf("Claim() before due err = %v, want ErrNotClaimable", err)
	}
}

func TestClaim_ExpiredClaimIsReclaimable(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	_ = s.Insert(ctx, in)

	now := time.Now()
	if _, err := s.Claim(ctx, in.ID, now, 50*time.Millisecond); err != nil {
		t.Fatalf("Claim() err = %v, want nil", err)
	}

	// worker 死亡：认领过期后任务重新可认领，尝试次数继续累积
	got, err := s.Claim(ctx, in.ID, now.Add(100*time.Millisecond), time.Minute)
	if err != nil {
		t.Fatalf("Claim() after expiry err = %v, want nil", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("Claim() after expiry attempts = %d, want 2", got.Attempts)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	_ = s.Insert(ctx, in)

	now := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, in.ID, now, time.Minute); err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("concurrent Claim() succeeded %d times, want exactly 1", claimed)
	}
}

func TestComplete_Fencing(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	_ = s.Insert(ctx, in)

	got, _ := s.Claim(ctx, in.ID, time.Now(), time.Minute)

	// 携带过期的 attempts 提交被拒
	if err := s.Complete(ctx, in.ID, got.Attempts+1, 200); !errors.Is(err, store.ErrStaleAttempt) {
		t.Fatalf("Complete() stale err = %v, want ErrStaleAttempt", err)
	}
	if err := s.Complete(ctx, in.ID, got.Attempts, 200); err != nil {
		t.Fatalf("Complete() err = %v, want nil", err)
	}

	final, _ := s.Get(ctx, in.ID)
	if final.Status != domain.StatusCompleted || final.ClaimedUntil != nil {
		t.Fatalf("Complete() left status %s claimed_until %v", final.Status, final.ClaimedUntil)
	}
	if final.LastStatusCode == nil || *final.LastStatusCode != 200 {
		t.Fatal("Complete() did not record status code")
	}

	// 终态后不再接受任何提交
	if err := s.Complete(ctx, in.ID, got.Attempts, 200); !errors.Is(err, store.ErrStaleAttempt) {
		t.Fatalf("Complete() on terminal err = %v, want ErrStaleAttempt", err)
	}
}

func TestScheduleRetry(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := pendingTask()
	_ = s.Insert(ctx, in)

	got, _ := s.Claim(ctx, in.ID, time.Now(), time.Minute)
	due := time.Now().Add(2 * time.Second)
	code := 502
	if err := s.ScheduleRetry(ctx, in.ID, got.Attempts, due, &code, "hook returned 502"); err != nil {
		t.Fatalf("ScheduleRetry() err = %v, want nil", err)
	}

	after, _ := s.Get(ctx, in.ID)
	if after.Status != domain.StatusRetry || after.ClaimedUntil != nil {
		t.Fatalf("ScheduleRetry() left status %s claimed_until %v", after.Status, after.ClaimedUntil)
	}
	if !after.DueAt.Equal(due) {
		t.Fatalf("ScheduleRetry() due_at = %s, want %s", after.DueAt, due)
	}
	if after.LastError != "hook returned 502" {
		t.Fatalf("ScheduleRetry() last_error = %q", after.LastError)
	}
}

func TestSelectDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	early := pendingTask()
	early.DueAt = now.Add(-2 * time.Second)
	late := pendingTask()
	late.DueAt = now.Add(-time.Second)
	future := pendingTask()
	future.DueAt = now.Add(time.Hour)
	_ = s.Insert(ctx, early)
	_ = s.Insert(ctx, late)
	_ = s.Insert(ctx, future)

	ids, err := s.SelectDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("SelectDue() err = %v, want nil", err)
	}
	if len(ids) != 2 {
		t.Fatalf("SelectDue() returned %d ids, want 2", len(ids))
	}
	if ids[0] != early.ID || ids[1] != late.ID {
		t.Fatal("SelectDue() not ordered by due_at")
	}

	ids, _ = s.SelectDue(ctx, now, 1)
	if len(ids) != 1 {
		t.Fatalf("SelectDue() limit ignored, got %d ids", len(ids))
	}
}

func TestSweepTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	done := pendingTask()
	_ = s.Insert(ctx, done)
	got, _ := s.Claim(ctx, done.ID, time.Now(), time.Minute)
	_ = s.Complete(ctx, done.ID, got.Attempts, 200)

	live := pendingTask()
	_ = s.Insert(ctx, live)

	n, err := s.SweepTerminal(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("SweepTerminal() err = %v, want nil", err)
	}
	if n != 1 {
		t.Fatalf("SweepTerminal() = %d, want 1", n)
	}
	if _, err := s.Get(ctx, done.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("SweepTerminal() did not remove terminal task")
	}
	if _, err := s.Get(ctx, live.ID); err != nil {
		t.Fatal("SweepTerminal() removed a live task")
	}
}

func TestDeleteAndCounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Delete(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Delete() unknown err = %v, want ErrNotFound", err)
	}

	in := pendingTask()
	_ = s.Insert(ctx, in)
	if err := s.Delete(ctx, in.ID); err != nil {
		t.Fatalf("Delete() err = %v, want nil", err)
	}
	if err := s.Delete(ctx, in.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Delete() twice err = %v, want ErrNotFound", err)
	}

	_ = s.Insert(ctx, pendingTask())
	_ = s.Insert(ctx, pendingTask())
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() err = %v, want nil", err)
	}
	if counts[domain.StatusPending] != 2 {
		t.Fatalf("CountByStatus() pending = %d, want 2", counts[domain.StatusPending])
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() err = %v, want nil", err)
	}
	counts, _ = s.CountByStatus(ctx)
	if len(counts) != 0 {
		t.Fatalf("CountByStatus() after purge = %v, want empty", counts)
	}
}

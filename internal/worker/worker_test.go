package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"messhall/internal/database"
	"messhall/internal/domain"
	"messhall/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var _ domain.SyncWorker = (*SheetsWorker)(nil)

func testBooking(id int64) *models.Booking {
	now := time.Now()
	return &models.Booking{
		ID:        id,
		UserID:    1,
		MealID:    10,
		Date:      now,
		Slot:      models.SlotLunch,
		Price:     decimal.RequireFromString("45"),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.SyncTaskCompleted {
		t.Fatalf("expected status=completed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", stored.RetryCount)
	}
	if stored.NextRetryAt != nil {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if sheets.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", sheets.upsertCalls)
	}
	if sheets.lastBooking == nil || !sheets.lastBooking.Price.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("expected booking snapshot to survive the payload round trip, got %+v", sheets.lastBooking)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("boom")}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.SyncTaskRetry {
		t.Fatalf("expected status=retry, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", stored.RetryCount)
	}
	if stored.NextRetryAt == nil || stored.NextRetryAt.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", stored.NextRetryAt)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("fatal")}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.SyncTaskFailed {
		t.Fatalf("expected status=failed, got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError != "fatal" {
		t.Fatalf("expected last_error=fatal, got %v", stored.LastError)
	}

	n, err := worker.RequeueFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("requeue: n=%d err=%v", n, err)
	}
	pending, _ := db.GetPendingSyncTasks(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected requeued task to be pending, got %d", len(pending))
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	worker := NewSheetsWorker(db, &fakeSheets{}, nil, RetryPolicy{MaxRetries: 5}, nil)

	ctx := context.Background()
	task := models.SyncTask{TaskType: models.SyncTaskUpsert, BookingID: 9, Payload: "invalid json"}
	if err := db.CreateSyncTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker.processTask(ctx, &task)

	if stored := loadTask(t, db, task.ID); stored.Status != models.SyncTaskFailed {
		t.Fatalf("expected undecodable task to fail immediately, got %s", stored.Status)
	}
}

func TestSheetsWorker_HandleSheetTask(t *testing.T) {
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(nil, sheets, nil, RetryPolicy{MaxRetries: 3}, nil)
	ctx := context.Background()

	t.Run("Upsert", func(t *testing.T) {
		err := worker.handleSheetTask(ctx, models.SyncTaskUpsert, sheetTaskPayload{Booking: testBooking(1)})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.upsertCalls != 1 {
			t.Fatalf("expected 1 upsert call, got %d", sheets.upsertCalls)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		err := worker.handleSheetTask(ctx, models.SyncTaskUpdateStatus, sheetTaskPayload{BookingID: 123, Status: "consumed"})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.statusCalls != 1 {
			t.Fatalf("expected 1 status call, got %d", sheets.statusCalls)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, models.SyncTaskUpsert, sheetTaskPayload{}); err == nil {
			t.Fatalf("expected error for missing booking")
		}
		if err := worker.handleSheetTask(ctx, models.SyncTaskUpdateStatus, sheetTaskPayload{BookingID: 1}); err == nil {
			t.Fatalf("expected error for missing status")
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, "delete", sheetTaskPayload{BookingID: 1}); err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.NextDelay(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}.withDefaults()
	if policy.InitialDelay != 2*time.Second || policy.MaxDelay != time.Minute || policy.BackoffFactor != 2 {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Exhausted(2) || !policy.Exhausted(3) {
		t.Fatalf("expected exhaustion at attempt 3")
	}
}

func TestSheetsWorker_EnqueueTask(t *testing.T) {
	db := newTestDB(t)
	worker := NewSheetsWorker(db, &fakeSheets{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	t.Run("ValidTask", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(1)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	})

	t.Run("InvalidTaskType", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, "", testBooking(1)); err == nil {
			t.Fatalf("expected error for empty task type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, nil); err == nil {
			t.Fatalf("expected error for missing booking")
		}
		if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, &models.Booking{}); err == nil {
			t.Fatalf("expected error for zero booking id")
		}
	})
}

func TestSheetsWorker_RedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("quota exceeded")}
	worker := NewSheetsWorker(db, sheets, rdb, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpdateStatus, testBooking(5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected task to go to redis, not memory")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	if task.BookingID != 5 {
		t.Fatalf("expected booking 5, got %d", task.BookingID)
	}

	worker.processTask(ctx, &task)

	dead, err := mr.List("messhall:sheets:deadletter")
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %v (%v)", dead, err)
	}
	if sheets.statusCalls != 1 {
		t.Fatalf("expected 1 status call, got %d", sheets.statusCalls)
	}
}

func TestSheetsWorker_StartStops(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(7)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if sheets.calls() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

// Helpers

type fakeSheets struct {
	mu          sync.Mutex
	err         error
	upsertCalls int
	statusCalls int
	lastBooking *models.Booking
}

func (f *fakeSheets) UpsertBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.lastBooking = b
	return f.err
}

func (f *fakeSheets) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.err
}

func (f *fakeSheets) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls + f.statusCalls
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTask(t *testing.T, db *database.DB, id int64) *models.SyncTask {
	t.Helper()
	task, err := db.GetSyncTask(context.Background(), id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	return task
}

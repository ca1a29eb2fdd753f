package cleanup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/learnify/internal/blobstore"
	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
)

// fakeQueue はBlobDeletionRepositoryのインメモリ実装。
type fakeQueue struct {
	mu      sync.Mutex
	entries map[string]*model.BlobDeletion
	listErr error
}

func newFakeQueue(entries ...*model.BlobDeletion) *fakeQueue {
	q := &fakeQueue{entries: make(map[string]*model.BlobDeletion)}
	for _, e := range entries {
		q.entries[e.ID] = e
	}
	return q
}

func (q *fakeQueue) Enqueue(_ context.Context, blobURL, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[blobURL] = &model.BlobDeletion{ID: blobURL, BlobURL: blobURL}
	return nil
}

func (q *fakeQueue) ListDue(_ context.Context, now time.Time, limit int) ([]*model.BlobDeletion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return nil, q.listErr
	}
	var due []*model.BlobDeletion
	for _, e := range q.entries {
		if !e.NextAttemptAt.After(now) && len(due) < limit {
			cp := *e
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (q *fakeQueue) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return errors.New("not queued")
	}
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = lastError
	return nil
}

func (q *fakeQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

func (q *fakeQueue) get(id string) (*model.BlobDeletion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	return e, ok
}

var _ repository.BlobDeletionRepository = (*fakeQueue)(nil)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func uploadOrphan(t *testing.T, store *blobstore.MemoryStore) string {
	t.Helper()
	url, err := store.Upload(context.Background(), blobstore.ObjectName("roadmap"), []byte(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	return url
}

func TestSweepJob_DestroysDueBlobs(t *testing.T) {
	store := blobstore.NewMemoryStore()
	url := uploadOrphan(t, store)
	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: url})

	var buf bytes.Buffer
	job := NewSweepJob(queue, store, nil, newTestLogger(&buf))

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Destroyed != 1 {
		t.Errorf("Destroyed = %d, want 1", res.Destroyed)
	}
	if store.Exists(url) {
		t.Error("blob should be destroyed")
	}
	if _, ok := queue.get("d1"); ok {
		t.Error("entry should be removed from queue")
	}
	if !strings.Contains(buf.String(), "孤立Blobスイープが完了しました") {
		t.Errorf("expected completion log, got: %s", buf.String())
	}
}

func TestSweepJob_ReschedulesWithBackoff(t *testing.T) {
	store := blobstore.NewMemoryStore()
	url := uploadOrphan(t, store)
	store.OnDestroy = func(string) error { return errors.New("storage down") }

	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: url, Attempts: 2})

	var buf bytes.Buffer
	job := NewSweepJob(queue, store, nil, newTestLogger(&buf))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return base }

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rescheduled != 1 {
		t.Fatalf("Rescheduled = %d, want 1", res.Rescheduled)
	}

	e, ok := queue.get("d1")
	if !ok {
		t.Fatal("entry should remain queued")
	}
	if e.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", e.Attempts)
	}
	// 30s * 2^2
	if want := base.Add(2 * time.Minute); !e.NextAttemptAt.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", e.NextAttemptAt, want)
	}
	if e.LastError != "storage down" {
		t.Errorf("LastError = %q", e.LastError)
	}
	if !store.Exists(url) {
		t.Error("blob should still exist")
	}
}

func TestSweepJob_SkipsEntriesNotYetDue(t *testing.T) {
	store := blobstore.NewMemoryStore()
	url := uploadOrphan(t, store)
	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: url, NextAttemptAt: time.Now().Add(time.Hour)})

	var buf bytes.Buffer
	res, err := NewSweepJob(queue, store, nil, newTestLogger(&buf)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Destroyed != 0 || !store.Exists(url) {
		t.Errorf("entry not yet due should be left alone: %+v", res)
	}
}

func TestSweepJob_DropsForeignURL(t *testing.T) {
	store := blobstore.NewMemoryStore()
	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: "https://elsewhere.example.com/x.json"})

	var buf bytes.Buffer
	res, err := NewSweepJob(queue, store, nil, newTestLogger(&buf)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if _, ok := queue.get("d1"); ok {
		t.Error("foreign URL should be removed from queue")
	}
}

func TestSweepJob_DropsAfterMaxAttempts(t *testing.T) {
	store := blobstore.NewMemoryStore()
	url := uploadOrphan(t, store)
	store.OnDestroy = func(string) error { return errors.New("storage down") }
	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: url, Attempts: 4})

	var buf bytes.Buffer
	job := NewSweepJob(queue, store, nil, newTestLogger(&buf))
	job.MaxAttempts = 5

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", res.Dropped)
	}
	if !strings.Contains(buf.String(), "孤立Blobの削除を断念しました") {
		t.Errorf("expected give-up log, got: %s", buf.String())
	}
}

func TestSweepJob_ListError(t *testing.T) {
	queue := newFakeQueue()
	queue.listErr = errors.New("connection refused")

	var buf bytes.Buffer
	_, err := NewSweepJob(queue, blobstore.NewMemoryStore(), nil, newTestLogger(&buf)).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("expected ERROR log, got: %s", buf.String())
	}
}

func TestSweepJob_RespectsBatchSize(t *testing.T) {
	store := blobstore.NewMemoryStore()
	queue := newFakeQueue()
	for i := 0; i < 5; i++ {
		url := uploadOrphan(t, store)
		queue.entries[url] = &model.BlobDeletion{ID: url, BlobURL: url}
	}

	var buf bytes.Buffer
	job := NewSweepJob(queue, store, nil, newTestLogger(&buf))
	job.BatchSize = 2

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Destroyed != 2 {
		t.Errorf("Destroyed = %d, want 2", res.Destroyed)
	}
	if store.Len() != 3 {
		t.Errorf("remaining blobs = %d, want 3", store.Len())
	}
}

func TestSweepJob_StartStopsOnCancel(t *testing.T) {
	store := blobstore.NewMemoryStore()
	url := uploadOrphan(t, store)
	queue := newFakeQueue(&model.BlobDeletion{ID: "d1", BlobURL: url})

	var buf bytes.Buffer
	job := NewSweepJob(queue, store, nil, slog.New(slog.NewJSONHandler(&syncBuffer{buf: &buf}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.Exists(url) {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// syncBuffer はゴルーチンから書き込まれるログを保護する。
type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

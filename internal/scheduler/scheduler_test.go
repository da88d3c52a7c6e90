package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/liqi/internal/db"
)

type fakeArchive struct {
	mu      sync.Mutex
	cutoffs []time.Time
	stats   int
	err     error
}

func (f *fakeArchive) Purge(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return 5, f.err
}

func (f *fakeArchive) Stats(context.Context) (db.ArchiveStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats++
	return db.ArchiveStats{TopMethods: []db.MethodCount{{Method: ".lq.A", Count: 1}}}, f.err
}

func TestPurgeOnceUsesRetention(t *testing.T) {
	archive := &fakeArchive{}
	s := NewScheduler(archive, Options{Retention: 48 * time.Hour})
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if n := s.PurgeOnce(context.Background()); n != 5 {
		t.Errorf("PurgeOnce = %d, want 5", n)
	}
	if want := now.Add(-48 * time.Hour); !archive.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", archive.cutoffs[0], want)
	}

	archive.err = errors.New("locked")
	if n := s.PurgeOnce(context.Background()); n != 0 {
		t.Errorf("failed purge should report 0, got %d", n)
	}
}

func TestPurgeDisabled(t *testing.T) {
	archive := &fakeArchive{}
	s := NewScheduler(archive, Options{})
	if n := s.PurgeOnce(context.Background()); n != 0 || len(archive.cutoffs) != 0 {
		t.Errorf("purge should be disabled without retention")
	}
}

func TestStartRunsTasksUntilCancelled(t *testing.T) {
	archive := &fakeArchive{}
	s := NewScheduler(archive, Options{
		Retention:     time.Hour,
		PurgeInterval: 10 * time.Millisecond,
		StatsInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		archive.mu.Lock()
		purges, stats := len(archive.cutoffs), archive.stats
		archive.mu.Unlock()
		if purges >= 2 && stats >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tasks did not run: %d purges, %d stats", purges, stats)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erdilatifi/chunkd/internal/models"
	"github.com/erdilatifi/chunkd/internal/progress"
)

func testOrchestrator(fn ChunkFunc, workers int) *Orchestrator {
	config := Config{
		MaxN:      1_000_000,
		MaxChunks: 100,
		Workers:   workers,
		Retention: time.Hour,
	}
	executor := NewExecutor(fn, fastPolicy(3), time.Minute, nil)
	return NewOrchestrator(config, progress.NewStore(), nil, nil, executor, nil)
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s did not reach a terminal state", jobID)
	return nil
}

func TestSubmitComputesSum(t *testing.T) {
	o := testOrchestrator(nil, 4)
	ctx := context.Background()

	job, err := o.Submit(ctx, 10, 3)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.TotalChunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", job.TotalChunks)
	}

	final := waitTerminal(t, o, job.ID)
	if final.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", final.Status, final.Detail)
	}
	if final.Result == nil || *final.Result != 55 {
		t.Errorf("Expected result 55, got %v", final.Result)
	}
	if final.Progress != 1.0 {
		t.Errorf("Expected progress 1.0, got %f", final.Progress)
	}
	if final.CompletedChunks != 3 {
		t.Errorf("Expected 3 completed chunks, got %d", final.CompletedChunks)
	}
}

func TestSubmitLargeRange(t *testing.T) {
	o := testOrchestrator(nil, 8)

	job, err := o.Submit(context.Background(), 100_000, 16)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final := waitTerminal(t, o, job.ID)
	if final.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s", final.Status)
	}
	// sum(1..100000) = 100000*100001/2
	want := int64(100_000) * 100_001 / 2
	if final.Result == nil || *final.Result != want {
		t.Errorf("Expected result %d, got %v", want, final.Result)
	}
}

func TestSubmitClampsChunksToRange(t *testing.T) {
	o := testOrchestrator(nil, 4)

	job, err := o.Submit(context.Background(), 3, 8)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.RequestedChunks != 8 {
		t.Errorf("Expected requested chunks 8, got %d", job.RequestedChunks)
	}
	if job.TotalChunks != 3 {
		t.Errorf("Expected effective chunks 3, got %d", job.TotalChunks)
	}

	final := waitTerminal(t, o, job.ID)
	if final.Result == nil || *final.Result != 6 {
		t.Errorf("Expected result 6, got %v", final.Result)
	}
}

func TestSubmitValidation(t *testing.T) {
	o := testOrchestrator(nil, 2)
	ctx := context.Background()

	cases := []struct {
		name    string
		n       int64
		chunks  int
		wantErr error
	}{
		{"zero n", 0, 3, ErrInvalidArgument},
		{"negative n", -5, 3, ErrInvalidArgument},
		{"zero chunks", 10, 0, ErrInvalidArgument},
		{"n above cap", 2_000_000, 3, ErrLimitExceeded},
		{"chunks above cap", 10, 500, ErrLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Submit(ctx, tc.n, tc.chunks)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSubmitRecordVisibleImmediately(t *testing.T) {
	// Hold chunks so the job cannot finish before the status read
	release := make(chan struct{})
	fn := func(ctx context.Context, start, end int64) (int64, error) {
		select {
		case <-release:
			return SumRange(ctx, start, end)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	o := testOrchestrator(fn, 2)

	job, err := o.Submit(context.Background(), 100, 4)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Record not visible immediately after submit: %v", err)
	}
	if got.Status != models.JobStatusPending && got.Status != models.JobStatusRunning {
		t.Errorf("Expected pending or running, got %s", got.Status)
	}

	close(release)
	waitTerminal(t, o, job.ID)
}

func TestChunkFailureFailsJob(t *testing.T) {
	fn := func(ctx context.Context, start, end int64) (int64, error) {
		if start == 1 {
			return 0, errors.New("injected failure")
		}
		return SumRange(ctx, start, end)
	}
	o := testOrchestrator(fn, 4)

	job, err := o.Submit(context.Background(), 100, 4)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final := waitTerminal(t, o, job.ID)
	if final.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.Result != nil {
		t.Errorf("Failed job must not carry a result, got %d", *final.Result)
	}
	if final.Detail == "" {
		t.Error("Expected failure detail")
	}
}

func TestCancelStopsJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	fn := func(ctx context.Context, start, end int64) (int64, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Second):
			return SumRange(ctx, start, end)
		}
	}
	o := testOrchestrator(fn, 4)

	job, err := o.Submit(context.Background(), 100, 4)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	cancelled, err := o.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling again reports the terminal state
	if _, err := o.Cancel(context.Background(), job.ID); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("Expected ErrJobTerminal on second cancel, got %v", err)
	}

	final := waitTerminal(t, o, job.ID)
	if final.Status != models.JobStatusCancelled {
		t.Errorf("Terminal cancelled state overwritten: got %s", final.Status)
	}
	if final.Result != nil {
		t.Errorf("Cancelled job must not carry a result, got %d", *final.Result)
	}
}

func TestProgressMonotonic(t *testing.T) {
	fn := func(ctx context.Context, start, end int64) (int64, error) {
		time.Sleep(2 * time.Millisecond)
		return SumRange(ctx, start, end)
	}
	o := testOrchestrator(fn, 2)

	job, err := o.Submit(context.Background(), 1000, 20)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	last := -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := o.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.CompletedChunks < last {
			t.Fatalf("Completed chunks regressed: %d after %d", got.CompletedChunks, last)
		}
		last = got.CompletedChunks
		if got.Status.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	final := waitTerminal(t, o, job.ID)
	if final.CompletedChunks != final.TotalChunks {
		t.Errorf("Expected %d completed, got %d", final.TotalChunks, final.CompletedChunks)
	}
}

func TestShutdownWaitsForJobs(t *testing.T) {
	o := testOrchestrator(nil, 4)

	if _, err := o.Submit(context.Background(), 10_000, 8); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown did not complete: %v", err)
	}
}

package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/autobill/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSource отдаёт ответы по очереди, последний повторяется.
type scriptedSource struct {
	mu    sync.Mutex
	steps []func() (*Snapshot, error)
	calls int
}

func (s *scriptedSource) Status(_ context.Context, _ string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i]()
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func snap(status models.JobStatus, pdf string) func() (*Snapshot, error) {
	return func() (*Snapshot, error) { return &Snapshot{Status: status, PDFURL: pdf}, nil }
}

func fail(err error) func() (*Snapshot, error) {
	return func() (*Snapshot, error) { return nil, err }
}

func TestPoller_Wait(t *testing.T) {
	tests := []struct {
		name       string
		steps      []func() (*Snapshot, error)
		wantStatus models.JobStatus
		wantPDF    string
		wantErr    error
	}{
		{
			name:       "not found then sent",
			steps:      []func() (*Snapshot, error){fail(models.ErrNotFound), snap(models.JobWorking, ""), snap(models.JobSent, "https://cdn.example.com/1.pdf")},
			wantStatus: models.JobSent,
			wantPDF:    "https://cdn.example.com/1.pdf",
		},
		{
			name:       "transient error is retried",
			steps:      []func() (*Snapshot, error){fail(errors.New("connection reset")), snap(models.JobFailed, "")},
			wantStatus: models.JobFailed,
		},
		{
			name:       "never leaves the queue",
			steps:      []func() (*Snapshot, error){fail(models.ErrNotFound)},
			wantStatus: models.JobQueued,
			wantErr:    ErrStillProcessing,
		},
		{
			name:       "stuck in working",
			steps:      []func() (*Snapshot, error){snap(models.JobWorking, "")},
			wantStatus: models.JobWorking,
			wantErr:    ErrStillProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{steps: tt.steps}
			p := New(src, 5*time.Millisecond, 100*time.Millisecond, newNoopLogger())

			got, err := p.Wait(context.Background(), "job-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantPDF, got.PDFURL)
		})
	}
}

func TestPoller_StopsOnTerminal(t *testing.T) {
	src := &scriptedSource{steps: []func() (*Snapshot, error){snap(models.JobSent, "https://x/1.pdf")}}
	p := New(src, time.Millisecond, time.Second, newNoopLogger())

	var seen []Snapshot
	p.OnPoll = func(s Snapshot) { seen = append(seen, s) }

	_, err := p.Wait(context.Background(), "job-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.Calls())
	assert.Len(t, seen, 1)
}

func TestPoller_Cancellation(t *testing.T) {
	src := &scriptedSource{steps: []func() (*Snapshot, error){snap(models.JobQueued, "")}}
	p := New(src, 5*time.Millisecond, time.Minute, newNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Wait(ctx, "job-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	calls := src.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no polls after cancellation")
}

func TestPoller_UnauthorizedStopsImmediately(t *testing.T) {
	src := &scriptedSource{steps: []func() (*Snapshot, error){fail(ErrUnauthorized)}}
	p := New(src, time.Millisecond, time.Second, newNoopLogger())

	_, err := p.Wait(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, src.Calls())
}

func TestHTTPSource_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/jobs/done":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"sent","pdfUrl":"https://cdn.example.com/done.pdf"}`))
		case "/api/v1/jobs/alias":
			_, _ = w.Write([]byte(`{"status":"processing"}`))
		case "/api/v1/jobs/weird":
			_, _ = w.Write([]byte(`{"status":"exploded"}`))
		case "/api/v1/jobs/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	got, err := src.Status(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.JobSent, got.Status)
	assert.Equal(t, "https://cdn.example.com/done.pdf", got.PDFURL)

	got, err = src.Status(ctx, "alias")
	require.NoError(t, err)
	assert.Equal(t, models.JobWorking, got.Status)

	_, err = src.Status(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = src.Status(ctx, "weird")
	assert.Error(t, err)

	_, err = src.Status(ctx, "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = NewHTTPSource(srv.URL, "bad", time.Second).Status(ctx, "done")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

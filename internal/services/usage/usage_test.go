package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/autobill/internal/lib/clock"
	"github.com/magabrotheeeer/autobill/internal/lib/retry"
	"github.com/magabrotheeeer/autobill/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) RecordUsage(ctx context.Context, accountID string, at time.Time) (string, error) {
	args := m.Called(ctx, accountID, at)
	return args.String(0), args.Error(1)
}

func (m *RepoMock) CountUsage(ctx context.Context, accountID string, since time.Time) (int, error) {
	args := m.Called(ctx, accountID, since)
	return args.Int(0), args.Error(1)
}

type fixedTiers struct{}

func (fixedTiers) ResolveTier(context.Context, string) models.Tier { return models.TierPro }
func (fixedTiers) LimitsFor(models.Tier) models.Limits {
	return models.Limits{Daily: models.Unbounded(), Monthly: models.LimitOf(1000)}
}

var (
	now  = time.Date(2026, 7, 20, 9, 30, 0, 0, time.UTC)
	fast = retry.Policy{Attempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
)

func newService(repo Repository) *Service {
	return New(repo, fixedTiers{}, clock.NewFakeClock(now), fast, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecord_RetriesTransientError(t *testing.T) {
	repo := &RepoMock{}
	repo.On("RecordUsage", mock.Anything, "acc", now).Return("", errors.New("connection reset")).Once()
	repo.On("RecordUsage", mock.Anything, "acc", now).Return("evt-1", nil).Once()

	id, err := newService(repo).Record(context.Background(), "acc", now)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	repo.AssertExpectations(t)
}

func TestRecord_GivesUpAfterAttempts(t *testing.T) {
	repo := &RepoMock{}
	repo.On("RecordUsage", mock.Anything, "acc", now).Return("", errors.New("connection reset"))

	_, err := newService(repo).Record(context.Background(), "acc", now)
	require.Error(t, err)
	repo.AssertNumberOfCalls(t, "RecordUsage", 3)
}

func TestCount(t *testing.T) {
	since := now.Add(-time.Hour)
	repo := &RepoMock{}
	repo.On("CountUsage", mock.Anything, "acc", since).Return(4, nil)

	n, err := newService(repo).Count(context.Background(), "acc", since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCount_CanceledContextIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := &RepoMock{}

	_, err := newService(repo).Count(ctx, "acc", now)
	assert.ErrorIs(t, err, context.Canceled)
	repo.AssertNotCalled(t, "CountUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSummary(t *testing.T) {
	repo := &RepoMock{}
	repo.On("CountUsage", mock.Anything, "acc", time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)).Return(2, nil)
	repo.On("CountUsage", mock.Anything, "acc", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)).Return(17, nil)

	s, err := newService(repo).Summary(context.Background(), "acc")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, s.Tier)
	assert.Equal(t, 2, s.Daily.Used)
	assert.True(t, s.Daily.Limit.IsUnbounded())
	assert.Equal(t, 17, s.Monthly.Used)
	assert.Equal(t, 1000, s.Monthly.Limit.Max())
}

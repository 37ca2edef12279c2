package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	open    []*models.ParkingSession
	closed  []int64
	listErr error
	failIDs map[int64]bool
}

func (s *fakeStore) ListOpenOlderThan(_ context.Context, cutoff time.Time) ([]*models.ParkingSession, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.ParkingSession
	for _, sess := range s.open {
		if sess.StartedAt.Before(cutoff) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *fakeStore) CloseOrphan(_ context.Context, sessionID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[sessionID] {
		return errors.New("write failed")
	}
	s.closed = append(s.closed, sessionID)
	return nil
}

func TestRunClosesStaleOrphans(t *testing.T) {
	store := &fakeStore{
		open: []*models.ParkingSession{
			{ID: 1, DeviceID: "dev-1", StartedAt: time.Now().Add(-48 * time.Hour)},
			{ID: 2, DeviceID: "dev-2", StartedAt: time.Now().Add(-2 * time.Hour)}, // 还不算陈旧
		},
	}

	svc := NewService(store, 24*time.Hour, zap.NewNop())
	closed, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, closed)
	assert.Equal(t, []int64{1}, store.closed)
}

func TestRunNoOrphans(t *testing.T) {
	svc := NewService(&fakeStore{}, 24*time.Hour, zap.NewNop())
	closed, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestRunContinuesPastCloseFailures(t *testing.T) {
	store := &fakeStore{
		open: []*models.ParkingSession{
			{ID: 1, DeviceID: "dev-1", StartedAt: time.Now().Add(-48 * time.Hour)},
			{ID: 2, DeviceID: "dev-2", StartedAt: time.Now().Add(-30 * time.Hour)},
		},
		failIDs: map[int64]bool{1: true},
	}

	svc := NewService(store, 24*time.Hour, zap.NewNop())
	closed, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, closed)
	assert.Equal(t, []int64{2}, store.closed)
}

func TestRunListFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	svc := NewService(store, 24*time.Hour, zap.NewNop())

	_, err := svc.Run(context.Background())
	assert.Error(t, err)
}

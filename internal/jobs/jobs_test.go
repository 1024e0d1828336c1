package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wg-tunnels/internal/core"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshStatuses(ctx context.Context) error {
	_, hasDeadline := ctx.Deadline()
	return m.Called(hasDeadline).Error(0)
}

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate() string {
	return m.Called().String(0)
}

func TestRefreshJobRunsWithDeadline(t *testing.T) {
	r := &mockRefresher{}
	r.On("RefreshStatuses", true).Return(errors.New("netlink busy")).Once()
	NewRefreshJob(r, time.Second).Run()
	r.AssertExpectations(t)
}

func TestEvaluateJob(t *testing.T) {
	e := &mockEvaluator{}
	e.On("Evaluate").Return("office").Once()
	NewEvaluateJob(e).Run()
	e.AssertExpectations(t)
}

func TestSchedulerJobs(t *testing.T) {
	cfg := core.DefaultConfig(t.TempDir())

	s, err := New(cfg, &mockRefresher{}, &mockEvaluator{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	off := false
	cfg.OnDemand.Enabled = &off
	s, err = New(cfg, &mockRefresher{}, &mockEvaluator{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s, err = New(core.DefaultConfig(t.TempDir()), &mockRefresher{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerRuns(t *testing.T) {
	cfg := core.DefaultConfig(t.TempDir())
	cfg.Jobs.StatusRefresh = "1s"

	r := &mockRefresher{}
	called := make(chan struct{}, 4)
	r.On("RefreshStatuses", true).Return(nil).Run(func(mock.Arguments) { called <- struct{}{} })

	s, err := New(cfg, r, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	select {
	case <-called:
	case <-time.After(3 * time.Second):
		t.Fatal("status refresh never ran")
	}
}

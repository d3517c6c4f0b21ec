package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls int32
	err   error
	theme atomic.Value
}

func (f *fakeRunner) Run(_ context.Context, theme string, _ service.RunOptions) (*service.UpdateSummary, error) {
	atomic.AddInt32(&f.calls, 1)
	f.theme.Store(theme)
	if f.err != nil {
		return nil, f.err
	}
	return &service.UpdateSummary{}, nil
}

func TestNewRejectsInvalidCron(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(&fakeRunner{}, "тема", config.SyncConfig{Cron: "every morning"}, logger)
	assert.Error(t, err)
}

func TestRunOnStart(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{}
	s, err := New(runner, "тема", config.SyncConfig{Cron: "40 7 * * *", RunOnStart: true}, logger)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runner.calls) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "тема", runner.theme.Load())
}

func TestRunJobSwallowsErrors(t *testing.T) {
	cases := []struct {
		err   error
		level logrus.Level
	}{
		{apperr.ErrRunInProgress, logrus.InfoLevel},
		{apperr.ErrSourceNotFound, logrus.WarnLevel},
		{errors.New("connection reset by peer"), logrus.ErrorLevel},
		{&apperr.UnknownUnitError{Unit: "бухта"}, logrus.ErrorLevel},
	}
	for _, c := range cases {
		runErr, level := c.err, c.level
		logger, hook := test.NewNullLogger()
		s, err := New(&fakeRunner{err: runErr}, "тема", config.SyncConfig{Cron: "@daily"}, logger)
		require.NoError(t, err)

		assert.NotPanics(t, s.runJob)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, level, hook.LastEntry().Level, runErr.Error())
	}
}

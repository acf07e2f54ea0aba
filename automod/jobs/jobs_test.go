package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatwarden/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJob(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := NewScheduler(nil)
	got := make(chan string, 1)
	s.Register("echo", func(ctx context.Context, payload []byte) error {
		got <- string(payload)
		return nil
	})

	id, err := s.Schedule(context.Background(), "echo", []byte("hello"), 10*time.Millisecond)
	require.NoError(err)
	assert.NotEmpty(id)

	select {
	case p := <-got:
		assert.Equal("hello", p)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	require.NoError(s.Shutdown(context.Background()))
	assert.Equal(0, s.Pending())
}

func TestSchedulerCancelAndShutdown(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	s := NewScheduler(nil)
	s.Register("never", func(ctx context.Context, payload []byte) error {
		t.Error("job should not run")
		return nil
	})

	_, err := s.Schedule(ctx, "missing", nil, 0)
	assert.Error(err)

	id, err := s.Schedule(ctx, "never", nil, time.Hour)
	require.NoError(err)
	assert.Equal(1, s.Pending())
	assert.True(s.Cancel(id))
	assert.False(s.Cancel(id))

	_, err = s.Schedule(ctx, "never", nil, time.Hour)
	require.NoError(err)
	require.NoError(s.Shutdown(ctx))
	assert.Equal(0, s.Pending())

	_, err = s.Schedule(ctx, "never", nil, time.Hour)
	assert.ErrorIs(err, ErrShutdown)
}

func TestSchedulerRecoversFailures(t *testing.T) {
	s := NewScheduler(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	s.Register("boom", func(ctx context.Context, payload []byte) error {
		defer wg.Done()
		panic("boom")
	})
	s.Register("fail", func(ctx context.Context, payload []byte) error {
		defer wg.Done()
		return errors.New("failed")
	})
	_, err := s.Schedule(context.Background(), "boom", nil, 0)
	require.NoError(t, err)
	_, err = s.Schedule(context.Background(), "fail", nil, 0)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, s.Shutdown(context.Background()))
}

type fakeMessages struct {
	msgs    []models.Message
	removed []int64
}

func (f *fakeMessages) RecentMessagesByUser(ctx context.Context, userID int64, since time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.msgs {
		if m.UserID == userID && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) MarkMessageRemoved(ctx context.Context, chatID, messageID int64) error {
	f.removed = append(f.removed, messageID)
	return nil
}

type fakeDeleter struct {
	fail map[int64]bool
}

func (f *fakeDeleter) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if f.fail[messageID] {
		return errors.New("message to delete not found")
	}
	return nil
}

func TestCleanup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Now()
	msgs := &fakeMessages{msgs: []models.Message{
		{ChatID: -1, MessageID: 1, UserID: 42, SentAt: now.Add(-time.Minute)},
		{ChatID: -2, MessageID: 2, UserID: 42, SentAt: now.Add(-time.Minute)},
		{ChatID: -2, MessageID: 3, UserID: 42, SentAt: now.Add(-time.Minute)},
		{ChatID: -2, MessageID: 4, UserID: 42, SentAt: now.Add(-48 * time.Hour)},
		{ChatID: -2, MessageID: 5, UserID: 43, SentAt: now},
	}}
	c := NewCleanup(msgs, &fakeDeleter{fail: map[int64]bool{2: true}}, nil)

	payload, err := json.Marshal(CleanupPayload{UserID: 42})
	require.NoError(err)
	require.NoError(c.Run(context.Background(), payload))
	assert.Equal([]int64{1, 3}, msgs.removed)

	assert.Error(c.Run(context.Background(), []byte("{")))
	assert.Error(c.Run(context.Background(), []byte("{}")))
}

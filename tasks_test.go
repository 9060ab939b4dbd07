package cloudgpt_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_RunsAndDrains(t *testing.T) {
	q := cloudgpt.NewTaskQueue(2, 16)
	var n atomic.Int64
	for i := 0; i < 10; i++ {
		require.True(t, q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, q.Close(context.Background()))
	assert.EqualValues(t, 10, n.Load())

	assert.False(t, q.Submit("late", func(context.Context) error { return nil }))
}

func TestTaskQueue_DropsWhenFull(t *testing.T) {
	q := cloudgpt.NewTaskQueue(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.True(t, q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.True(t, q.Submit("queued", func(context.Context) error { return nil }))
	assert.False(t, q.Submit("dropped", func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestTaskQueue_SurvivesFailuresAndPanics(t *testing.T) {
	q := cloudgpt.NewTaskQueue(1, 4)
	var ran atomic.Bool
	q.Submit("fail", func(context.Context) error { return errors.New("sink down") })
	q.Submit("panic", func(context.Context) error { panic("boom") })
	q.Submit("after", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, q.Close(context.Background()))
	assert.True(t, ran.Load())
}

func TestTaskQueue_TaskTimeout(t *testing.T) {
	q := cloudgpt.NewTaskQueue(1, 1, cloudgpt.WithTaskTimeout(20*time.Millisecond))
	var err atomic.Value
	q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		err.Store(ctx.Err())
		return ctx.Err()
	})
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, context.DeadlineExceeded, err.Load())
}

func TestTaskQueue_CloseHonorsContext(t *testing.T) {
	q := cloudgpt.NewTaskQueue(1, 1, cloudgpt.WithTaskTimeout(time.Minute))
	release := make(chan struct{})
	defer close(release)
	q.Submit("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestEstimateTokens(t *testing.T) {
	assert.EqualValues(t, 0, cloudgpt.EstimateTokens("abc"))
	assert.EqualValues(t, 2, cloudgpt.EstimateTokens("abcdefgh"))
	assert.EqualValues(t, 3+4+1, cloudgpt.EstimateMessageTokens([]cloudgpt.Message{cloudgpt.TextMessage("user", "abcd")}))
}

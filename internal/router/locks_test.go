package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	l := newUserLocks()
	release, err := l.Acquire(context.Background(), "u1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "u1")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over")
	}
	require.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	l := newUserLocks()
	r1, err := l.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, l.size())
	r1()
	r2()
	assert.Equal(t, 0, l.size())
}

func TestUserLocks_ContextCancel(t *testing.T) {
	l := newUserLocks()
	release, err := l.Acquire(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent
	assert.Equal(t, 0, l.size())
}

package concurrency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRejectsConcurrentTask(t *testing.T) {
	g := NewGuard()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- g.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.True(t, g.Busy())
	assert.ErrorIs(t, g.Execute(func() error { return nil }), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, g.Busy())
}

func TestGuardReturnsTaskError(t *testing.T) {
	g := NewGuard()
	boom := errors.New("boom")
	assert.ErrorIs(t, g.Execute(func() error { return boom }), boom)
	assert.NoError(t, g.Execute(func() error { return nil }))
}

package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_CapAndRelease(t *testing.T) {
	l := NewConnectionLimiter(2)

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())

	l.Release()
	assert.True(t, l.Acquire())
	assert.Equal(t, int64(2), l.Current())
}

func TestConnectionLimiter_ConcurrentAcquires(t *testing.T) {
	l := NewConnectionLimiter(100)

	var wg sync.WaitGroup
	granted := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted <- l.Acquire()
		}()
	}
	wg.Wait()
	close(granted)

	var ok int
	for g := range granted {
		if g {
			ok++
		}
	}
	assert.Equal(t, 100, ok)
	assert.Equal(t, int64(100), l.Current())
}

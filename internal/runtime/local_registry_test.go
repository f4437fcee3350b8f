package runtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalListenerRegistry_FirstAndLast(t *testing.T) {
	r := NewLocalListenerRegistry()
	key := RoutingKey("mailbox_id:1")

	a := r.AddListener(key, newRecordingListener(Asynchronous))
	b := r.AddListener(key, newRecordingListener(Synchronous))

	assert.True(t, a.IsFirstListener())
	assert.False(t, b.IsFirstListener())
	assert.Len(t, r.Listeners(key), 2)

	assert.False(t, a.Unregister())
	assert.True(t, b.Unregister())
	assert.Empty(t, r.Listeners(key))
	assert.Empty(t, r.RoutingKeys())
}

func TestLocalListenerRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewLocalListenerRegistry()
	key := RoutingKey("username:bob")

	a := r.AddListener(key, newRecordingListener(Asynchronous))
	r.AddListener(key, newRecordingListener(Asynchronous))

	assert.False(t, a.Unregister())
	assert.False(t, a.Unregister())
	assert.Len(t, r.Listeners(key), 1)
}

func TestLocalListenerRegistry_SameListenerTwice(t *testing.T) {
	r := NewLocalListenerRegistry()
	key := RoutingKey("username:bob")
	l := newRecordingListener(Asynchronous)

	first := r.AddListener(key, l)
	second := r.AddListener(key, l)
	assert.Len(t, r.Listeners(key), 2)

	assert.False(t, first.Unregister())
	assert.True(t, second.Unregister())
}

func TestLocalListenerRegistry_ExactlyOneFirstUnderConcurrency(t *testing.T) {
	r := NewLocalListenerRegistry()
	key := RoutingKey("mailbox_id:concurrent")

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	regs := make([]*LocalRegistration, 50)
	for i := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg := r.AddListener(key, newRecordingListener(Asynchronous))
			regs[i] = reg
			if reg.IsFirstListener() {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)

	lasts := 0
	for _, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Unregister() {
				mu.Lock()
				lasts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, lasts)
}

package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

func TestEventBus_SinceAndTrim(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 5; i++ {
		bus.OnProgress("job", i*20, "")
	}

	all := bus.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].Seq)
	assert.Equal(t, 80, all[2].Progress)
	assert.Len(t, bus.Since(4), 1)
	assert.Empty(t, bus.Since(5))
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch, cancel := bus.Subscribe(4)

	bus.OnJobStateChange("job", StatusFailed, errs.New(errs.KindCancelled, "job cancelled"))

	select {
	case ev := <-ch:
		assert.Equal(t, EventTypeState, ev.Type)
		assert.Equal(t, StatusFailed, ev.Status)
		assert.Equal(t, "Cancelled", ev.ErrorKind)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	bus.OnProgress("job", 10, "")
}

package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBatch(t Tracker, items []string) {
	t.Begin(len(items))
	for i, item := range items {
		t.Processing(item)
		t.ProcessingDone(i, item)
	}
	t.Completed()
}

func TestCounter(t *testing.T) {
	var c Counter
	runBatch(&c, []string{"a", "b", "c"})

	s := c.Snapshot()
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Started)
	assert.Equal(t, 3, s.Done)
	assert.Equal(t, 1, s.Completed)

	c.Clear()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCounterRunningState(t *testing.T) {
	var c Counter
	c.Begin(2)
	c.Processing("x")
	s := c.Snapshot()
	assert.Equal(t, Running, s.State)
	assert.Equal(t, "x", s.Current)
	assert.Equal(t, "running", s.State.String())
}

func TestFuncAndMulti(t *testing.T) {
	var events []string
	f := Func{
		OnBegin:          func(total int) { events = append(events, "begin") },
		OnProcessingDone: func(seq int, item any) { events = append(events, item.(string)) },
		OnCompleted:      func() { events = append(events, "done") },
	}
	var c Counter
	runBatch(Multi{f, &c}, []string{"a", "b"})

	assert.Equal(t, []string{"begin", "a", "b", "done"}, events)
	assert.Equal(t, 2, c.Snapshot().Done)
}

func TestNop(t *testing.T) {
	tr := Nop(nil)
	require.NotNil(t, tr)
	runBatch(tr, []string{"a"})

	var c Counter
	assert.Same(t, &c, Nop(&c))
}

func TestChannel(t *testing.T) {
	ch := NewChannel(16, nil)
	runBatch(ch, []string{"a", "b"})

	var updates []Progress
	for len(ch.C) > 0 {
		updates = append(updates, <-ch.C)
	}
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(2), last.Current)
	assert.Equal(t, int64(2), last.Total)
}

func TestChannelDropsWhenFull(t *testing.T) {
	ch := NewChannel(1, nil)
	ch.Begin(5)
	ch.Processing("a")
	ch.ProcessingDone(0, "a")
	assert.Len(t, ch.C, 1)

	<-ch.C
	ch.Completed()
	p := <-ch.C
	assert.True(t, p.Done)
}

func TestChannelCompletesWithoutConsumer(t *testing.T) {
	ch := NewChannel(1, nil)
	runBatch(ch, []string{"a", "b", "c", "d"})

	require.Len(t, ch.C, 1)
	last := <-ch.C
	assert.True(t, last.Done)
	assert.Equal(t, int64(4), last.Current)
}

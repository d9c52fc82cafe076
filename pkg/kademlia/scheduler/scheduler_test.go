package scheduler_test

import (
	"testing"
	"time"

	"github.com/mod/ipfs-sim/pkg/kademlia/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchesInTimeOrder(t *testing.T) {
	s := scheduler.New()
	var order []int

	s.Schedule(30*time.Millisecond, func() { order = append(order, 3) })
	s.Schedule(10*time.Millisecond, func() { order = append(order, 1) })
	s.Schedule(20*time.Millisecond, func() { order = append(order, 2) })

	s.Run()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEqualTimeDispatchesInInsertionOrder(t *testing.T) {
	s := scheduler.New()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		s.Schedule(5*time.Millisecond, func() { order = append(order, i) })
	}
	s.Run()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestNowAdvancesToDispatchedEventTime(t *testing.T) {
	s := scheduler.New()
	var observed time.Duration
	s.Schedule(7*time.Millisecond, func() { observed = s.Now() })
	s.Run()
	assert.Equal(t, 7*time.Millisecond, observed)
}

func TestCancelSkipsHandler(t *testing.T) {
	s := scheduler.New()
	fired := false
	h := s.Schedule(time.Millisecond, func() { fired = true })
	s.Cancel(h)
	s.Run()
	assert.False(t, fired)
}

func TestHorizonStopsEarly(t *testing.T) {
	s := scheduler.New()
	s.SetHorizon(15 * time.Millisecond)
	count := 0
	s.Schedule(10*time.Millisecond, func() { count++ })
	s.Schedule(20*time.Millisecond, func() { count++ })
	s.Run()
	assert.Equal(t, 1, count)
	require.Equal(t, 1, s.Pending())
}

func TestDeterministicAcrossRuns(t *testing.T) {
	run := func() []int {
		s := scheduler.New()
		var order []int
		for i := 0; i < 20; i++ {
			i := i
			s.Schedule(time.Duration(i%4)*time.Millisecond, func() { order = append(order, i) })
		}
		s.Run()
		return order
	}
	a := run()
	b := run()
	assert.Equal(t, a, b)
}

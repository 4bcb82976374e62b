package util

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoWorkList(t *testing.T) {
	tests := []struct {
		name     string
		input    []int
		expected []int
	}{
		{"empty", nil, []int{}},
		{"single", []int{3}, []int{9}},
		{"keeps order", []int{5, 1, 4, 2}, []int{25, 1, 16, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DoWorkList(tt.input, func(n int) int {
				// Later items finish first.
				time.Sleep(time.Duration(10-n) * time.Millisecond)
				return n * n
			})
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDoWorkList_RunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	DoWorkList([]int{1, 2, 3, 4}, func(int) struct{} {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return struct{}{}
	})
	assert.Greater(t, peak.Load(), int32(1))
}

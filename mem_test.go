package hookengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageBoundsSinglePage(t *testing.T) {
	start, length := pageBounds(0x10, 0x10)
	assert.Equal(t, uintptr(0), start)
	assert.Equal(t, pageSize, length)
}

func TestPageBoundsTwoPages(t *testing.T) {
	start, length := pageBounds(pageSize-4, 0x10)
	assert.Equal(t, uintptr(0), start)
	assert.Equal(t, 2*pageSize, length)
}

func TestPageBoundsEndOfPage(t *testing.T) {
	start, length := pageBounds(3*pageSize-0x10, 0x10)
	assert.Equal(t, 2*pageSize, start)
	assert.Equal(t, pageSize, length)
}

func TestProbeNearOrder(t *testing.T) {
	var tried []uintptr
	ok := probeNear(0x20123, 0x1000, func(addr uintptr) bool {
		tried = append(tried, addr)
		return len(tried) == 4
	})
	assert.True(t, ok)
	// 0x0 is below minProbeAddr and is skipped
	assert.Equal(t, []uintptr{0x30000, 0x10000, 0x40000, 0x50000}, tried)
}

func TestProbeNearTooLarge(t *testing.T) {
	called := false
	ok := probeNear(0x7F0000000000, nearReach, func(uintptr) bool {
		called = true
		return true
	})
	assert.False(t, ok)
	assert.False(t, called)
}

func TestProbeNearStaysInReach(t *testing.T) {
	const near, size = uintptr(0x7F0000000000), uintptr(0x10000)
	n := 0
	probeNear(near, size, func(addr uintptr) bool {
		n++
		if addr > near {
			assert.Less(t, uint64(addr+size-near), uint64(1<<31))
		} else {
			assert.Less(t, uint64(near-addr), uint64(1<<31))
		}
		return false
	})
	assert.Greater(t, n, 60000)
}

package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAllocatesWhenEmpty(t *testing.T) {
	t.Parallel()

	p := New(2)
	b := p.Get(16)
	require.Len(t, b.Bytes(), 16)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Allocs)
	assert.Equal(t, int64(0), stats.Reuses)
	assert.Equal(t, int64(1), stats.Live)
}

func TestReleaseRecyclesBuffer(t *testing.T) {
	t.Parallel()

	p := New(2)
	b := p.Get(64)
	first := &b.Bytes()[0]
	b.Release()

	b2 := p.Get(32)
	assert.Len(t, b2.Bytes(), 32)
	assert.Same(t, first, &b2.Bytes()[0], "smaller request should reuse the idle backing array")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Allocs)
	assert.Equal(t, int64(1), stats.Reuses)
}

func TestGetGrowsSmallIdleBuffer(t *testing.T) {
	t.Parallel()

	p := New(1)
	p.Get(8).Release()

	b := p.Get(1024)
	assert.Len(t, b.Bytes(), 1024)
	assert.Equal(t, int64(2), p.Stats().Allocs)
}

func TestReleaseDropsWhenFull(t *testing.T) {
	t.Parallel()

	p := New(1)
	a, b := p.Get(4), p.Get(4)
	a.Release()
	b.Release()

	assert.Len(t, p.free, 1)
	assert.Equal(t, int64(0), p.Stats().Live)
}

func TestReleasedBufferPanics(t *testing.T) {
	t.Parallel()

	p := New(1)
	b := p.Get(4)
	b.Release()

	assert.PanicsWithValue(t, "bufpool: use of released buffer", func() { b.Bytes() })
	assert.PanicsWithValue(t, "bufpool: buffer released twice", func() { b.Release() })
}

func TestPeakTracksConcurrentOwners(t *testing.T) {
	t.Parallel()

	p := New(4)
	held := []*Buffer{p.Get(1), p.Get(1), p.Get(1)}
	for _, b := range held {
		b.Release()
	}
	p.Get(1).Release()

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Peak)
	assert.Equal(t, int64(3), stats.Allocs)
	assert.Equal(t, int64(0), stats.Live)
}

func TestConcurrentGetRelease(t *testing.T) {
	t.Parallel()

	const workers = 8
	p := New(workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				b := p.Get(128 + i%64)
				b.Bytes()[0] = byte(i)
				b.Release()
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Live)
	assert.LessOrEqual(t, stats.Peak, int64(workers))
}

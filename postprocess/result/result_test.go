package result

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxRectGeometry(t *testing.T) {

	tests := []struct {
		box        BoxRect
		width      int
		height     int
		degenerate bool
	}{
		{BoxRect{Left: 10, Top: 20, Right: 60, Bottom: 120}, 50, 100, false},
		{BoxRect{Left: 600, Top: 0, Right: 680, Bottom: 1}, 80, 1, false},
		{BoxRect{Left: 100, Top: 10, Right: 100, Bottom: 50}, 0, 40, true},
		{BoxRect{Left: 100, Top: 50, Right: 120, Bottom: 40}, 20, -10, true},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.width, tc.box.Width())
		assert.Equal(t, tc.height, tc.box.Height())
		assert.Equal(t, tc.degenerate, tc.box.Degenerate())
	}
}

func TestIDGeneratorConcurrent(t *testing.T) {

	gen := NewIDGenerator()

	const workers = 8
	const perWorker = 100

	seen := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seen <- gen.GetNext()
			}
		}()
	}

	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for id := range seen {
		unique[id] = true
	}

	assert.Len(t, unique, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker+1), gen.GetNext())
}

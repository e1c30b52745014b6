package engine

import (
	"math"
	"sync"
	"time"
)

// sampleHistory keeps the two most recent inbox depth samples.
type sampleHistory struct {
	mu      sync.Mutex
	samples [2]int64
	n       int
}

func (h *sampleHistory) push(depth int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[1] = h.samples[0]
	h.samples[0] = depth
	if h.n < 2 {
		h.n++
	}
}

// snapshot returns the newest and previous samples and how many are held.
func (h *sampleHistory) snapshot() (newest, previous int64, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.samples[0], h.samples[1], h.n
}

// queueRate converts the change between the two samples to records per
// minute. Positive means the queue is growing. With a single sample the
// sample itself is the rate.
func queueRate(newest, previous int64, n int, period time.Duration) int64 {
	switch n {
	case 0:
		return 0
	case 1:
		return newest
	}
	if period <= 0 {
		return newest - previous
	}
	perMinute := float64(time.Minute) / float64(period)
	return int64(math.Round(float64(newest-previous) * perMinute))
}

// pageSize derives the inbox page for one poll cycle. A growing queue halves
// the base page, a draining or empty one doubles it. openSlots caps the page
// for asynchronous adapters; pass -1 when there is no cap. The result is
// always within [1, limit].
func pageSize(base, limit int, newest, previous int64, n, openSlots int) int {
	size := base
	if n >= 2 {
		switch {
		case newest == 0 || newest < previous:
			size = base * 2
		case newest > previous:
			size = base / 2
		}
	}
	if openSlots >= 0 && size > openSlots {
		size = openSlots
	}
	if size > limit {
		size = limit
	}
	if size < 1 {
		size = 1
	}
	return size
}

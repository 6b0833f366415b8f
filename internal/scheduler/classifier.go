package scheduler

import (
	"sync"

	"github.com/worph/meta-sort/internal/manifest"
)

// classifier keeps a fixed-size rolling mean of completed task
// durations per plugin and uses it to pick a queue when the caller
// does not pin one. Exact statistics are unnecessary; a ring buffer
// of the most recent samples suffices.
type classifier struct {
	mu      sync.Mutex
	samples map[string][]int64
	pos     map[string]int
}

const ringSize = 128

func newClassifier() *classifier {
	return &classifier{
		samples: make(map[string][]int64),
		pos:     make(map[string]int),
	}
}

func (c *classifier) record(pluginID string, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.samples[pluginID]
	if buf == nil {
		buf = make([]int64, 0, ringSize)
		c.samples[pluginID] = buf
	}
	if len(c.samples[pluginID]) < ringSize {
		c.samples[pluginID] = append(c.samples[pluginID], durationMs)
		return
	}
	c.samples[pluginID][c.pos[pluginID]] = durationMs
	c.pos[pluginID] = (c.pos[pluginID] + 1) % ringSize
}

// queueFor returns the queue to use for pluginID given its manifest
// default, honoring the measured mean once enough samples exist.
func (c *classifier) queueFor(m manifest.Manifest, minSamples int, thresholdMs int64) manifest.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.samples[m.ID]
	if len(buf) < minSamples {
		return m.DefaultQueue
	}
	var sum int64
	for _, v := range buf {
		sum += v
	}
	mean := sum / int64(len(buf))
	if mean < thresholdMs {
		return manifest.Fast
	}
	return manifest.Background
}

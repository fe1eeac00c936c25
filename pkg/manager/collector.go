package manager

import (
	"time"

	"github.com/cuemby/fides/pkg/metrics"
)

// Collector periodically snapshots a Manager's state into the process's
// Prometheus gauges: per-status source counts, per-source document counts,
// and the blob store's approximate footprint.
type Collector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewCollector builds a Collector for mgr. Call Start to begin sampling.
func NewCollector(mgr *Manager) *Collector {
	return &Collector{manager: mgr, stopCh: make(chan struct{})}
}

// Start launches a background goroutine sampling every interval until Stop
// is called. It samples once immediately before the first tick.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling goroutine.
func (c *Collector) Stop() { close(c.stopCh) }

func (c *Collector) collect() {
	statusCounts := make(map[string]int)
	var totalBytes int64

	for sourceID, entry := range c.manager.sources {
		statusCounts[entry.src.Status.String()]++
		metrics.DocumentsTotal.WithLabelValues(sourceID).Set(float64(len(entry.documents)))

		handles, err := c.manager.blobs.List(sourceID)
		if err != nil {
			continue
		}
		for _, h := range handles {
			data, err := c.manager.blobs.Load(h)
			if err != nil {
				continue
			}
			totalBytes += int64(len(data))
		}
	}
	for status, count := range statusCounts {
		metrics.SourcesTotal.WithLabelValues(status).Set(float64(count))
	}
	metrics.BlobStoreBytesTotal.Set(float64(totalBytes))
}

package metrics

import (
	"runtime"
	"time"

	"motion-extractor/internal/logging"
)

// StatsProvider reports state that lives outside this package.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics
type Stats struct {
	RetainedOutputs     int
	RetainedOutputBytes int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	GoMemAllocBytes.Set(float64(m.Alloc))

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()
	RetainedOutputs.Set(float64(stats.RetainedOutputs))
	RetainedOutputBytes.Set(float64(stats.RetainedOutputBytes))

	logging.Debug("Metrics collected: %d retained outputs (%d bytes), heap %d bytes",
		stats.RetainedOutputs, stats.RetainedOutputBytes, m.Alloc)
}

package metrics

import (
	"time"

	"github.com/monocore/monocore/pkg/storage"
	"github.com/monocore/monocore/pkg/types"
)

// Collector periodically samples the sandbox store and publishes
// aggregate gauges (services running, services failed).
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

func NewCollector(store storage.Store) *Collector {
	return &Collector{store: store, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	rows, err := c.store.ListSandboxes()
	if err != nil {
		return
	}

	running, failed := 0, 0
	for _, row := range rows {
		switch row.Status {
		case string(types.StatusFailed):
			failed++
		default:
			running++
		}
	}
	ServicesRunning.Set(float64(running))
	ServicesFailed.Set(float64(failed))
}

package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CursorDBConnectionsOpen tracks open connections to the cursor store.
	CursorDBConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailscan",
		Subsystem: "cursor_db",
		Name:      "connections_open",
		Help:      "Open connections to the cursor database",
	})

	// CursorDBConnectionsInUse tracks connections currently in use.
	CursorDBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailscan",
		Subsystem: "cursor_db",
		Name:      "connections_in_use",
		Help:      "Cursor database connections currently in use",
	})

	// CursorDBConnectionsIdle tracks idle pooled connections.
	CursorDBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailscan",
		Subsystem: "cursor_db",
		Name:      "connections_idle",
		Help:      "Idle cursor database connections",
	})

	// CursorDBWaitCount counts waits for a free connection.
	CursorDBWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailscan",
		Subsystem: "cursor_db",
		Name:      "wait_count_total",
		Help:      "Total number of waits for a cursor database connection",
	})
)

// DBStatsProvider exposes connection pool statistics.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// DBStatsCollector periodically publishes cursor store pool statistics.
type DBStatsCollector struct {
	db     DBStatsProvider
	stopCh chan struct{}
}

// NewDBStatsCollector creates a collector for the given database.
func NewDBStatsCollector(db DBStatsProvider) *DBStatsCollector {
	return &DBStatsCollector{
		db:     db,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting statistics at the given interval.
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
}

func (c *DBStatsCollector) collect() {
	stats := c.db.Stats()
	CursorDBConnectionsOpen.Set(float64(stats.OpenConnections))
	CursorDBConnectionsInUse.Set(float64(stats.InUse))
	CursorDBConnectionsIdle.Set(float64(stats.Idle))
	CursorDBWaitCount.Set(float64(stats.WaitCount))
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lithium-next/lithium-core/internal/cache"
	"github.com/lithium-next/lithium-core/internal/orm"
)

// Measurement names.
const (
	MeasurementCache   = "lithium_cache"
	MeasurementTableOp = "lithium_table_ops"
)

var (
	_ cache.StatsSink = (*Client)(nil)
	_ orm.Observer    = (*Client)(nil)
)

// WriteCacheStats records a cache snapshot. It implements cache.StatsSink
// and is called after every reaper pass.
func (c *Client) WriteCacheStats(stats cache.Stats) {
	c.write(cacheStatsPoint(c.instance, stats, time.Now()))
}

// OnTableOp records the duration and row count of a table operation.
// It implements orm.Observer.
func (c *Client) OnTableOp(table, op string, rows int64, elapsed time.Duration, err error) {
	c.write(tableOpPoint(c.instance, table, op, rows, elapsed, err, time.Now()))
}

// WritePoint writes a custom point stamped now.
//
// Example:
//
//	client.WritePoint("lithium_migrations",
//	    map[string]string{"direction": "up"},
//	    map[string]interface{}{"applied": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func cacheStatsPoint(instance string, stats cache.Stats, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCache,
		map[string]string{"instance": instance},
		map[string]interface{}{
			"size":   int64(stats.Size),
			"hits":   int64(stats.Hits),   // #nosec G115 -- counters stay far below MaxInt64
			"misses": int64(stats.Misses), // #nosec G115
			"purged": int64(stats.Purged), // #nosec G115
		},
		at,
	)
}

func tableOpPoint(instance, table, op string, rows int64, elapsed time.Duration, err error, at time.Time) *write.Point {
	status := "ok"
	if err != nil {
		status = "error"
	}
	return write.NewPoint(
		MeasurementTableOp,
		map[string]string{
			"instance": instance,
			"table":    table,
			"op":       op,
			"status":   status,
		},
		map[string]interface{}{
			"rows":        rows,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
		at,
	)
}

// Package influxdb records Lithium store telemetry in InfluxDB v2.
//
// Two measurements are written:
//   - lithium_cache: size, hits, misses and purged totals after each
//     cache reaper pass (cache.StatsSink)
//   - lithium_table_ops: rows and duration per table operation, tagged
//     by table, op and status (orm.Observer)
//
// Writes are batched and non-blocking. When the client is not connected
// they are dropped silently, so telemetry never fails a store operation.
//
// # Usage
//
//	influx, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer influx.Close()
//
//	c := cache.New(cache.WithStatsSink(influx))
//	t := orm.NewTable(conn, schema, orm.WithObserver(influx))
package influxdb

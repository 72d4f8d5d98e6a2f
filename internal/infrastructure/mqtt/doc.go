// Package mqtt connects the Lithium store to an MQTT broker.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Table change events on lithium/db/{table}/{op} (TableNotifier)
//   - Cross-process cache invalidation on lithium/cache/invalidate
//   - Online/offline status with a Last Will on lithium/system/status
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) outside local development
//   - Event payloads carry table names and row counts, never row data
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	notifier := mqtt.NewTableNotifier(client, 0, logger)
//	sequences := orm.NewTable(conn, records.SequenceSchema, orm.WithObserver(notifier))
//
//	err = client.SubscribeInvalidation(cacheManager)
package mqtt

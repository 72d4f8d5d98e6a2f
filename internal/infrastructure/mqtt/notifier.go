package mqtt

import (
	"encoding/json"
	"time"

	"github.com/lithium-next/lithium-core/internal/cache"
	"github.com/lithium-next/lithium-core/internal/orm"
)

// Publisher is the part of Client the notifier needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TableEvent is the payload published for a successful table write.
type TableEvent struct {
	Table      string  `json:"table"`
	Op         string  `json:"op"`
	Rows       int64   `json:"rows"`
	DurationMS float64 `json:"duration_ms"`
	Timestamp  string  `json:"timestamp"`
}

// TableNotifier publishes a TableEvent for every successful write made
// through an orm.Table. Reads and failed operations are not published.
//
// It implements orm.Observer. Publishing is synchronous with the table
// operation, so use QoS 0 when write latency matters.
type TableNotifier struct {
	pub    Publisher
	qos    byte
	logger Logger
}

var _ orm.Observer = (*TableNotifier)(nil)

// NewTableNotifier returns a notifier publishing through pub at qos.
// logger may be nil.
func NewTableNotifier(pub Publisher, qos byte, logger Logger) *TableNotifier {
	return &TableNotifier{pub: pub, qos: qos, logger: logger}
}

// OnTableOp implements orm.Observer.
func (n *TableNotifier) OnTableOp(table, op string, rows int64, elapsed time.Duration, err error) {
	if err != nil || !isWrite(op) {
		return
	}

	payload, mErr := json.Marshal(TableEvent{
		Table:      table,
		Op:         op,
		Rows:       rows,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if mErr != nil {
		return
	}

	if pErr := n.pub.Publish(Topics{}.TableEvent(table, op), payload, n.qos, false); pErr != nil && n.logger != nil {
		n.logger.Warn("publishing table event failed", "table", table, "op", op, "error", pErr)
	}
}

func isWrite(op string) bool {
	switch op {
	case orm.OpInsert, orm.OpUpdate, orm.OpDelete, orm.OpCreate, orm.OpDrop, orm.OpIndex:
		return true
	}
	return false
}

// PublishInvalidation asks every subscribed process to apply inv to its
// cache.
func PublishInvalidation(pub Publisher, qos byte, inv cache.Invalidation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return pub.Publish(Topics{}.CacheInvalidate(), payload, qos, false)
}

// SubscribeInvalidation applies invalidation messages from other processes
// to m.
func (c *Client) SubscribeInvalidation(m *cache.Manager) error {
	return c.Subscribe(Topics{}.CacheInvalidate(), byte(c.cfg.QoS), cache.InvalidationHandler(m))
}

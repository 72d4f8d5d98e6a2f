package cache

import (
	"encoding/json"
	"fmt"
)

// Invalidation is the message other processes publish to drop entries.
//
// Example payloads:
//
//	{"keys": ["device:3f2a"]}
//	{"prefix": "device:"}
//	{"all": true}
type Invalidation struct {
	Keys   []string `json:"keys,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	All    bool     `json:"all,omitempty"`
}

// Apply removes the entries the message names and returns how many went.
func (inv Invalidation) Apply(m *Manager) int {
	if inv.All {
		n := m.Size()
		m.Clear()
		return n
	}
	n := 0
	for _, k := range inv.Keys {
		if m.Remove(k) {
			n++
		}
	}
	if inv.Prefix != "" {
		n += m.RemovePrefix(inv.Prefix)
	}
	return n
}

// InvalidationHandler returns a message handler that decodes an
// Invalidation payload and applies it to m. Its signature matches
// mqtt.MessageHandler.
func InvalidationHandler(m *Manager) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		var inv Invalidation
		if err := json.Unmarshal(payload, &inv); err != nil {
			return fmt.Errorf("decoding cache invalidation on %s: %w", topic, err)
		}
		n := inv.Apply(m)
		m.logger.Debug("cache invalidation applied", "topic", topic, "removed", n)
		return nil
	}
}

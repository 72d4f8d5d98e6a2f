package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Lithium topic.
const TopicPrefix = "lithium"

// Topics provides builders for Lithium MQTT topics.
//
//	lithium/db/{table}/{op}      table change events (not retained)
//	lithium/cache/invalidate     cross-process cache invalidation
//	lithium/system/status        online/offline status (retained, LWT)
type Topics struct{}

// TableEvent returns the topic for a change to table.
//
// Example: lithium/db/sequences/insert
func (Topics) TableEvent(table, op string) string {
	return fmt.Sprintf("%s/db/%s/%s", TopicPrefix, table, op)
}

// TableEvents returns the wildcard for every op on table, or on every
// table when table is empty.
//
// Example: lithium/db/sequences/+
func (Topics) TableEvents(table string) string {
	if table == "" {
		table = "+"
	}
	return fmt.Sprintf("%s/db/%s/+", TopicPrefix, table)
}

// CacheInvalidate returns the cache invalidation topic.
func (Topics) CacheInvalidate() string {
	return TopicPrefix + "/cache/invalidate"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllTopics returns the wildcard matching every Lithium topic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseTableEvent splits a table event topic into its table and op.
func (Topics) ParseTableEvent(topic string) (table, op string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "db" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

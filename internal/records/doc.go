// Package records holds the application records Lithium keeps in its
// SQLite store: imaging sequences and device configurations.
//
// Each record type has an orm.Schema and a repository built on orm.Table.
// Device configurations are read far more often than written, so
// DeviceConfigRepository reads through a cache.Manager and drops the
// cached copy on every write. Other processes sharing the database learn
// about those writes through WithRemoteInvalidation, typically wired to
// mqtt.PublishInvalidation.
package records

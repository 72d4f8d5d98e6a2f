package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithium-next/lithium-core/internal/cache"
	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/orm"
	"github.com/lithium-next/lithium-core/internal/query"
)

// DeviceCacheKeyPrefix prefixes every cached device configuration key.
const DeviceCacheKeyPrefix = "device:"

// DeviceCacheKey returns the cache key for the device configuration id.
func DeviceCacheKey(id string) string {
	return DeviceCacheKeyPrefix + id
}

// DeviceConfig is the stored configuration of one piece of equipment
// (camera, mount, focuser, filter wheel, guider).
type DeviceConfig struct {
	ID         string    `json:"id"`
	DeviceType string    `json:"device_type"`
	Name       string    `json:"name"`
	Driver     string    `json:"driver"`
	Settings   string    `json:"settings"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate implements orm.Validator. Settings must be empty or a JSON
// document.
func (d *DeviceConfig) Validate() error {
	if d.ID == "" {
		return errors.New("device id is required")
	}
	if d.DeviceType == "" {
		return errors.New("device type is required")
	}
	if strings.TrimSpace(d.Settings) != "" && !json.Valid([]byte(d.Settings)) {
		return fmt.Errorf("device %s settings are not valid JSON", d.ID)
	}
	return nil
}

// DeviceConfigSchema maps DeviceConfig onto the device_configs table.
var DeviceConfigSchema = orm.MustSchema("device_configs",
	orm.Field("id", func(d *DeviceConfig) *string { return &d.ID }, orm.PrimaryKey()),
	orm.Field("device_type", func(d *DeviceConfig) *string { return &d.DeviceType }, orm.NotNull()),
	orm.Field("name", func(d *DeviceConfig) *string { return &d.Name }, orm.NotNull(), orm.Constraints("DEFAULT ''")),
	orm.Field("driver", func(d *DeviceConfig) *string { return &d.Driver }, orm.NotNull(), orm.Constraints("DEFAULT ''")),
	orm.Field("settings", func(d *DeviceConfig) *string { return &d.Settings }, orm.NotNull(), orm.Constraints("DEFAULT '{}'")),
	orm.Field("enabled", func(d *DeviceConfig) *bool { return &d.Enabled }, orm.NotNull(), orm.Constraints("DEFAULT 1")),
	orm.Field("updated_at", func(d *DeviceConfig) *time.Time { return &d.UpdatedAt }, orm.NotNull()),
)

// DeviceConfigRepository stores device configurations. Get reads through
// a cache.Manager; every write drops the cached copy.
type DeviceConfigRepository struct {
	conn       *database.Connection
	table      *orm.Table[DeviceConfig]
	cache      *cache.Manager
	ttl        time.Duration
	invalidate func(cache.Invalidation)
	now        func() time.Time
}

// DeviceConfigOption customises a DeviceConfigRepository.
type DeviceConfigOption func(*DeviceConfigRepository)

// WithCacheTTL sets the lifetime of cached configurations. Zero or
// negative uses the cache's default.
func WithCacheTTL(ttl time.Duration) DeviceConfigOption {
	return func(r *DeviceConfigRepository) {
		r.ttl = ttl
	}
}

// WithRemoteInvalidation registers fn to be called with the keys dropped
// after each write, so other processes sharing the database can drop
// theirs too.
func WithRemoteInvalidation(fn func(cache.Invalidation)) DeviceConfigOption {
	return func(r *DeviceConfigRepository) {
		r.invalidate = fn
	}
}

// WithTableOptions passes opts to the underlying orm.Table.
func WithTableOptions(opts ...orm.TableOption) DeviceConfigOption {
	return func(r *DeviceConfigRepository) {
		r.table = orm.NewTable(r.conn, DeviceConfigSchema, opts...)
	}
}

// NewDeviceConfigRepository returns a repository on conn caching reads in
// c. A nil c disables caching.
func NewDeviceConfigRepository(conn *database.Connection, c *cache.Manager, opts ...DeviceConfigOption) *DeviceConfigRepository {
	r := &DeviceConfigRepository{
		conn:  conn,
		table: orm.NewTable(conn, DeviceConfigSchema),
		cache: c,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema creates the device_configs table if it does not exist.
func (r *DeviceConfigRepository) EnsureSchema(ctx context.Context) error {
	return r.table.CreateTable(ctx, true)
}

// Create stores d and stamps UpdatedAt. An empty Settings is stored as {}.
func (r *DeviceConfigRepository) Create(ctx context.Context, d *DeviceConfig) error {
	if strings.TrimSpace(d.Settings) == "" {
		d.Settings = "{}"
	}
	d.UpdatedAt = r.now()
	if err := r.table.Insert(ctx, *d); err != nil {
		return fmt.Errorf("creating device config %s: %w", d.ID, err)
	}
	r.drop(d.ID)
	return nil
}

// Get returns the configuration with id, from the cache when present.
//
// Returns:
//   - error: wraps database.ErrNoRow when no configuration has that id
func (r *DeviceConfigRepository) Get(ctx context.Context, id string) (DeviceConfig, error) {
	if r.cache == nil {
		return r.load(ctx, id)
	}

	var loaded *DeviceConfig
	raw, err := r.cache.GetOrLoad(DeviceCacheKey(id), r.ttl, func() (string, error) {
		d, err := r.load(ctx, id)
		if err != nil {
			return "", err
		}
		loaded = &d
		b, err := json.Marshal(d)
		if err != nil {
			return "", fmt.Errorf("encoding device config %s: %w", id, err)
		}
		return string(b), nil
	})
	if err != nil {
		return DeviceConfig{}, err
	}
	if loaded != nil {
		return *loaded, nil
	}

	var d DeviceConfig
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		// A corrupt entry is dropped and the row read again.
		r.cache.Remove(DeviceCacheKey(id))
		return r.load(ctx, id)
	}
	return d, nil
}

func (r *DeviceConfigRepository) load(ctx context.Context, id string) (DeviceConfig, error) {
	d, err := r.table.FindOne(ctx, "id = ?", id)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("getting device config %s: %w", id, err)
	}
	return d, nil
}

// List returns every configuration ordered by type then name.
func (r *DeviceConfigRepository) List(ctx context.Context) ([]DeviceConfig, error) {
	return r.list(ctx, query.New(DeviceConfigSchema.Table()))
}

// ListByType returns the configurations of one device type.
func (r *DeviceConfigRepository) ListByType(ctx context.Context, deviceType string) ([]DeviceConfig, error) {
	return r.list(ctx, query.New(DeviceConfigSchema.Table()).Where("device_type = ?", deviceType))
}

// ListEnabled returns the enabled configurations.
func (r *DeviceConfigRepository) ListEnabled(ctx context.Context) ([]DeviceConfig, error) {
	return r.list(ctx, query.New(DeviceConfigSchema.Table()).Where("enabled = ?", true))
}

func (r *DeviceConfigRepository) list(ctx context.Context, b *query.Builder) ([]DeviceConfig, error) {
	b.OrderBy("device_type", true).OrderBy("name", true).OrderBy("id", true)
	out, err := r.table.Select(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("listing device configs: %w", err)
	}
	return out, nil
}

// Update overwrites the stored configuration with d and drops its cached
// copy.
//
// Returns:
//   - error: wraps database.ErrNoRow when d.ID is not stored
func (r *DeviceConfigRepository) Update(ctx context.Context, d *DeviceConfig) error {
	if strings.TrimSpace(d.Settings) == "" {
		d.Settings = "{}"
	}
	d.UpdatedAt = r.now()
	err := r.table.Update(ctx, *d, "id = ?", d.ID)
	r.drop(d.ID)
	if err != nil {
		return fmt.Errorf("updating device config %s: %w", d.ID, err)
	}
	if r.conn.Changes() == 0 {
		return fmt.Errorf("updating device config %s: %w", d.ID, database.ErrNoRow)
	}
	return nil
}

// SetEnabled toggles one configuration.
func (r *DeviceConfigRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	d, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	d.Enabled = enabled
	return r.Update(ctx, &d)
}

// Delete removes the configuration with id and drops its cached copy.
func (r *DeviceConfigRepository) Delete(ctx context.Context, id string) error {
	err := r.table.Remove(ctx, "id = ?", id)
	r.drop(id)
	if err != nil {
		return fmt.Errorf("deleting device config %s: %w", id, err)
	}
	return nil
}

func (r *DeviceConfigRepository) drop(id string) {
	key := DeviceCacheKey(id)
	if r.cache != nil {
		r.cache.Remove(key)
	}
	if r.invalidate != nil {
		r.invalidate(cache.Invalidation{Keys: []string{key}})
	}
}

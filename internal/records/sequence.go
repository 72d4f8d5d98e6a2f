package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/orm"
	"github.com/lithium-next/lithium-core/internal/query"
)

// SequenceState is the run state of an imaging sequence.
type SequenceState string

// Sequence states, in the order a sequence normally moves through them.
const (
	SequenceIdle     SequenceState = "idle"
	SequenceRunning  SequenceState = "running"
	SequencePaused   SequenceState = "paused"
	SequenceStopping SequenceState = "stopping"
	SequenceStopped  SequenceState = "stopped"
)

// Valid reports whether s is a known state.
func (s SequenceState) Valid() bool {
	switch s {
	case SequenceIdle, SequenceRunning, SequencePaused, SequenceStopping, SequenceStopped:
		return true
	}
	return false
}

// Sequence is a stored imaging sequence: a named run of exposures on one
// target.
type Sequence struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Target    string        `json:"target"`
	State     SequenceState `json:"state"`
	Exposures int           `json:"exposures"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate implements orm.Validator.
func (s *Sequence) Validate() error {
	if s.ID == "" {
		return errors.New("sequence id is required")
	}
	if s.Name == "" {
		return errors.New("sequence name is required")
	}
	if !s.State.Valid() {
		return fmt.Errorf("unknown sequence state %q", s.State)
	}
	if s.Exposures < 0 {
		return fmt.Errorf("exposures cannot be negative: %d", s.Exposures)
	}
	return nil
}

// SequenceSchema maps Sequence onto the sequences table.
var SequenceSchema = orm.MustSchema("sequences",
	orm.Field("id", func(s *Sequence) *string { return &s.ID }, orm.PrimaryKey()),
	orm.Field("name", func(s *Sequence) *string { return &s.Name }, orm.NotNull()),
	orm.Field("target", func(s *Sequence) *string { return &s.Target }, orm.NotNull(), orm.Constraints("DEFAULT ''")),
	orm.Field("state", func(s *Sequence) *SequenceState { return &s.State }, orm.NotNull()),
	orm.Field("exposures", func(s *Sequence) *int { return &s.Exposures }, orm.NotNull(), orm.Constraints("DEFAULT 0")),
	orm.Field("created_at", func(s *Sequence) *time.Time { return &s.CreatedAt }, orm.NotNull()),
	orm.Field("updated_at", func(s *Sequence) *time.Time { return &s.UpdatedAt }, orm.NotNull()),
)

// SequenceRepository stores sequences.
//
// It shares its Connection's concurrency rule: one goroutine at a time.
type SequenceRepository struct {
	conn  *database.Connection
	table *orm.Table[Sequence]
	now   func() time.Time
}

// NewSequenceRepository returns a repository on conn. opts are passed to
// the underlying orm.Table.
func NewSequenceRepository(conn *database.Connection, opts ...orm.TableOption) *SequenceRepository {
	return &SequenceRepository{
		conn:  conn,
		table: orm.NewTable(conn, SequenceSchema, opts...),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the sequences table if it does not exist.
// Deployed stores get it from the migrations instead.
func (r *SequenceRepository) EnsureSchema(ctx context.Context) error {
	return r.table.CreateTable(ctx, true)
}

// Create stores s, assigning an ID when empty, the idle state when unset
// and both timestamps. s is updated in place.
func (r *SequenceRepository) Create(ctx context.Context, s *Sequence) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.State == "" {
		s.State = SequenceIdle
	}
	now := r.now()
	s.CreatedAt, s.UpdatedAt = now, now

	if err := r.table.Insert(ctx, *s); err != nil {
		return fmt.Errorf("creating sequence %s: %w", s.ID, err)
	}
	return nil
}

// Get returns the sequence with id.
//
// Returns:
//   - error: wraps database.ErrNoRow when no sequence has that id
func (r *SequenceRepository) Get(ctx context.Context, id string) (Sequence, error) {
	s, err := r.table.FindOne(ctx, "id = ?", id)
	if err != nil {
		return Sequence{}, fmt.Errorf("getting sequence %s: %w", id, err)
	}
	return s, nil
}

// List returns sequences newest first, limited to state when it is not
// empty.
func (r *SequenceRepository) List(ctx context.Context, state SequenceState) ([]Sequence, error) {
	b := query.New(SequenceSchema.Table()).OrderBy("created_at", false).OrderBy("id", true)
	if state != "" {
		b.Where("state = ?", string(state))
	}
	out, err := r.table.Select(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("listing sequences: %w", err)
	}
	return out, nil
}

// Update overwrites the stored sequence with s and refreshes UpdatedAt.
//
// Returns:
//   - error: wraps database.ErrNoRow when s.ID is not stored
func (r *SequenceRepository) Update(ctx context.Context, s *Sequence) error {
	s.UpdatedAt = r.now()
	if err := r.table.Update(ctx, *s, "id = ?", s.ID); err != nil {
		return fmt.Errorf("updating sequence %s: %w", s.ID, err)
	}
	if r.conn.Changes() == 0 {
		return fmt.Errorf("updating sequence %s: %w", s.ID, database.ErrNoRow)
	}
	return nil
}

// SetState changes only the state of the sequence with id.
func (r *SequenceRepository) SetState(ctx context.Context, id string, state SequenceState) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	s.State = state
	return r.Update(ctx, &s)
}

// Delete removes the sequence with id. Deleting a missing id is not an
// error.
func (r *SequenceRepository) Delete(ctx context.Context, id string) error {
	if err := r.table.Remove(ctx, "id = ?", id); err != nil {
		return fmt.Errorf("deleting sequence %s: %w", id, err)
	}
	return nil
}

// Count returns the number of sequences in state, or of all sequences when
// state is empty.
func (r *SequenceRepository) Count(ctx context.Context, state SequenceState) (int64, error) {
	if state == "" {
		return r.table.Count(ctx, "")
	}
	return r.table.Count(ctx, "state = ?", string(state))
}

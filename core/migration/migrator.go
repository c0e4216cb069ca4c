package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/asaidimu/go-jsondb/core/jsondb"
	"go.uber.org/zap"
)

// VersionPath is where the last applied schema version is stored.
const VersionPath = "/schema/version"

var (
	// ErrDuplicateVersion is returned when two steps upgrade to the same
	// version.
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrMalformedRecord is returned by a step when a record it must rewrite
	// lacks a field the rewrite depends on.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrConflict is returned by a step when rewriting a record would
	// overwrite data that is already in its target shape.
	ErrConflict = errors.New("migration conflict")
)

// UpFunc upgrades the store to the version of its Step.
type UpFunc func(ctx context.Context, store jsondb.Store, logger *zap.Logger) error

// Step is a single migration. Version is the schema version the step
// upgrades the store to.
type Step struct {
	Version     int
	Description string
	Up          UpFunc
}

// Migrator applies steps to a store in ascending version order.
//
// When the store implements jsondb.Transactor every step, together with the
// version marker it advances, runs in one transaction. Otherwise the writes
// of a step are independent, and a failure part way leaves the step partially
// applied with the marker still at the previous version.
type Migrator struct {
	store  jsondb.Store
	logger *zap.Logger
	steps  []Step
}

// NewMigrator validates and orders steps.
func NewMigrator(store jsondb.Store, logger *zap.Logger, steps []Step) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for i, step := range sorted {
		if step.Up == nil {
			return nil, fmt.Errorf("migration %d has no up function", step.Version)
		}
		if i > 0 && sorted[i-1].Version == step.Version {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateVersion, step.Version)
		}
	}

	return &Migrator{store: store, logger: logger, steps: sorted}, nil
}

// Steps returns the registered steps in the order they are applied.
func (m *Migrator) Steps() []Step {
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// Latest returns the highest registered version, or zero when there are no
// steps.
func (m *Migrator) Latest() int {
	if len(m.steps) == 0 {
		return 0
	}
	return m.steps[len(m.steps)-1].Version
}

// CurrentVersion reads the schema version recorded in the store. A store
// that was never migrated is at version zero.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	return readVersion(ctx, m.store)
}

// Migrate applies every step above the current version up to and including
// target, stopping at the first failure. A target of zero or less means the
// latest registered version. It returns the version the store is at when it
// stops.
func (m *Migrator) Migrate(ctx context.Context, target int) (int, error) {
	if target <= 0 {
		target = m.Latest()
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, err
	}
	if current >= target {
		m.logger.Info("Schema is up to date", zap.Int("version", current))
		return current, nil
	}

	for _, step := range m.steps {
		if step.Version <= current || step.Version > target {
			continue
		}
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if err := m.apply(ctx, step); err != nil {
			return current, err
		}
		current = step.Version
	}
	return current, nil
}

func (m *Migrator) apply(ctx context.Context, step Step) error {
	logger := m.logger.With(zap.Int("version", step.Version))
	logger.Info(fmt.Sprintf("Migrating to schema %d ...", step.Version), zap.String("description", step.Description))

	startTime := time.Now()
	m.notify(jsondb.NewMigrationEvent(jsondb.MigrateStart, step.Version, time.Time{}, nil))

	run := func(store jsondb.Store) error {
		if err := step.Up(ctx, store, logger); err != nil {
			return err
		}
		return store.Set(ctx, VersionPath, step.Version)
	}

	var err error
	if tx, ok := m.store.(jsondb.Transactor); ok {
		err = tx.Transact(ctx, run)
	} else {
		err = run(m.store)
	}
	if err != nil {
		logger.Error("Migration failed", zap.Error(err), zap.Duration("elapsed", time.Since(startTime)))
		m.notify(jsondb.NewMigrationEvent(jsondb.MigrateFailed, step.Version, startTime, err))
		return fmt.Errorf("migration to schema %d failed: %w", step.Version, err)
	}

	logger.Info(fmt.Sprintf("Migration to schema %d completed", step.Version), zap.Duration("elapsed", time.Since(startTime)))
	m.notify(jsondb.NewMigrationEvent(jsondb.MigrateSuccess, step.Version, startTime, nil))
	return nil
}

func (m *Migrator) notify(event jsondb.Event) {
	if n, ok := m.store.(jsondb.Notifier); ok {
		n.Notify(event)
	}
}

func readVersion(ctx context.Context, store jsondb.Store) (int, error) {
	v, err := store.Get(ctx, VersionPath, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	switch val := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		n, err := strconv.Atoi(val.String())
		if err != nil {
			return 0, fmt.Errorf("invalid schema version %q: %w", val, err)
		}
		return n, nil
	case float64:
		return int(val), nil
	case int:
		return val, nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("invalid schema version %q: %w", val, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid schema version of type %T", v)
	}
}

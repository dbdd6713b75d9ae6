package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/coop/db/types"
)

// Default settings.
const (
	DefaultSchema       = "farms_manager"
	DefaultHistoryTable = "__migrations_history"
	DefaultLockTimeout  = time.Minute
)

// Migrator applies and reverses migrations against a single database.
type Migrator struct {
	db          *sql.DB
	dialect     Dialect
	migrations  []*Migration
	byID        map[string]*Migration
	schema      string
	table       string
	lockTimeout time.Duration
	timeNow     func() time.Time
	logger      *slog.Logger
	owner       string
}

// New returns a new Migrator for the given known migrations. The migrations
// are copied, qualified with the default schema, validated and sorted by
// ascending ID, so the order in which they're passed doesn't matter.
func New(db *sql.DB, dialect Dialect, migrations []*Migration, opts ...Option) (*Migrator, error) {
	if db == nil || dialect == nil {
		return nil, errors.New("a database and a dialect are required")
	}

	m := &Migrator{db: db, dialect: dialect, owner: cuid2.Generate()}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	m.migrations = make([]*Migration, 0, len(migrations))
	m.byID = make(map[string]*Migration, len(migrations))
	for _, mig := range migrations {
		mc := *mig
		if err := mc.Prepare(m.schema); err != nil {
			return nil, err
		}
		if prev, ok := m.byID[mc.ID]; ok {
			return nil, fmt.Errorf("duplicate migration ID %s: %s and %s", mc.ID, prev.Name, mc.Name)
		}
		m.byID[mc.ID] = &mc
		m.migrations = append(m.migrations, &mc)
	}
	SortMigrations(m.migrations)

	return m, nil
}

// Migrations returns the known migrations, ordered by ascending ID.
func (m *Migrator) Migrations() []*Migration {
	return m.migrations
}

// Upgrade applies all pending migrations up to and including targetID, or
// all of them if targetID is empty. A migration is pending if its ID is
// greater than the highest applied ID. Each migration runs in its own
// transaction, and is recorded in the history table before it's committed.
// On failure, the in-flight migration is rolled back, earlier ones stay
// applied, and the returned records list the migrations applied by this call.
func (m *Migrator) Upgrade(ctx context.Context, targetID string) (applied []MigrationRecord, err error) {
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer m.unlock(release, &err)

	if err = m.Init(ctx); err != nil {
		return nil, err
	}
	plan, err := m.plan(ctx, MigrationUp, targetID)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		m.logger.Info("schema is up to date")
		return nil, nil
	}

	applied = make([]MigrationRecord, 0, len(plan))
	for _, mig := range plan {
		rec, err := m.run(ctx, mig, MigrationUp)
		if err != nil {
			return applied, err
		}
		applied = append(applied, rec)
	}

	return applied, nil
}

// Downgrade reverses all applied migrations with an ID greater than
// targetID, in descending order. Use InitialID to reverse all of them. Each
// migration is reversed in its own transaction, and removed from the history
// table before it's committed. The returned records list the migrations
// reversed by this call.
func (m *Migrator) Downgrade(ctx context.Context, targetID string) (reversed []MigrationRecord, err error) {
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer m.unlock(release, &err)

	if err = m.Init(ctx); err != nil {
		return nil, err
	}
	plan, err := m.plan(ctx, MigrationDown, targetID)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		m.logger.Info("nothing to reverse")
		return nil, nil
	}

	reversed = make([]MigrationRecord, 0, len(plan))
	for _, mig := range plan {
		rec, err := m.run(ctx, mig, MigrationDown)
		if err != nil {
			return reversed, err
		}
		reversed = append(reversed, rec)
	}

	return reversed, nil
}

// Plan returns the migrations that Upgrade or Downgrade would run for
// targetID, in the order they would run, without running them.
func (m *Migrator) Plan(ctx context.Context, dir Direction, targetID string) ([]*Migration, error) {
	return m.plan(ctx, dir, targetID)
}

// ScriptStep holds the statements a single migration would execute.
type ScriptStep struct {
	Migration  *Migration
	Direction  Direction
	Statements []string
}

// Script performs a dry run of Upgrade or Downgrade. All planned migrations
// are executed in a single transaction, which is always rolled back, and the
// DDL statements they execute are returned.
func (m *Migrator) Script(ctx context.Context, dir Direction, targetID string) (steps []ScriptStep, err error) {
	release, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer m.unlock(release, &err)

	if err = m.Init(ctx); err != nil {
		return nil, err
	}
	plan, err := m.plan(ctx, dir, targetID)
	if err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed starting transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			m.logger.Error("failed rolling back dry run transaction", "error", rbErr)
		}
	}()

	appliedAt := m.timeNow().UTC()
	steps = make([]ScriptStep, 0, len(plan))
	for _, mig := range plan {
		step := ScriptStep{Migration: mig, Direction: dir}
		ops, err := m.operations(mig, dir)
		if err == nil {
			err = m.execute(ctx, tx, mig, dir, ops, appliedAt, func(stmt string) {
				step.Statements = append(step.Statements, stmt)
			})
		}
		if err != nil {
			return steps, newMigrationError(mig, dir, err)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// Init creates the schema and the migration history table, if they don't
// exist.
func (m *Migrator) Init(ctx context.Context) error {
	return m.history().ensure(ctx, m.db)
}

// Applied returns the migration history, ordered by ascending ID. A missing
// history table is an empty history.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationRecord, error) {
	h := m.history()
	exists, err := h.exists(ctx, m.db)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []MigrationRecord{}, nil
	}
	return h.records(ctx, m.db)
}

// Unlock forcibly releases the migration lock. It should only be used when a
// previous run died while holding it.
func (m *Migrator) Unlock(ctx context.Context) error {
	if err := m.dialect.ForceUnlock(ctx, m.db, m.schema, m.table); err != nil {
		return fmt.Errorf("failed releasing migration lock: %w", err)
	}
	m.logger.Info("released migration lock")
	return nil
}

// Snapshot returns the current schema, without the migrator's own tables.
func (m *Migrator) Snapshot(ctx context.Context) (*Schema, error) {
	return m.dialect.Snapshot(ctx, m.db, m.schema, m.table, m.table+"_lock")
}

func (m *Migrator) history() history {
	return history{dialect: m.dialect, schema: m.schema, table: m.table}
}

func (m *Migrator) lock(ctx context.Context) (func() error, error) {
	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	m.logger.Debug("acquiring migration lock", "timeout", m.lockTimeout)
	release, err := m.dialect.Lock(lctx, m.db, m.schema, m.table, m.owner)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrLockTimeout, m.lockTimeout)
		}
		return nil, fmt.Errorf("failed acquiring migration lock: %w", err)
	}
	m.logger.Debug("acquired migration lock")

	return release, nil
}

// unlock releases the migration lock. A release failure is logged, and
// returned only if the run itself succeeded.
func (m *Migrator) unlock(release func() error, errp *error) {
	if err := release(); err != nil {
		m.logger.Error("failed releasing migration lock", "error", err)
		if *errp == nil {
			*errp = fmt.Errorf("failed releasing migration lock: %w", err)
		}
		return
	}
	m.logger.Debug("released migration lock")
}

// plan returns the migrations to run in the given direction, in order.
func (m *Migrator) plan(ctx context.Context, dir Direction, targetID string) ([]*Migration, error) {
	records, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	switch dir {
	case MigrationUp:
		return m.planUp(records, targetID)
	case MigrationDown:
		return m.planDown(records, targetID)
	}

	return nil, fmt.Errorf("invalid migration direction '%s'", dir)
}

func (m *Migrator) planUp(records []MigrationRecord, targetID string) ([]*Migration, error) {
	var highest string
	applied := make(map[string]struct{}, len(records))
	for _, r := range records {
		applied[r.ID] = struct{}{}
		highest = r.ID
	}

	if targetID != "" {
		if _, ok := m.byID[targetID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, targetID)
		}
		if highest != "" && compareIDs(targetID, highest) < 0 {
			return nil, fmt.Errorf("%w: %s is older than the latest applied migration %s; downgrade instead",
				ErrInvalidTarget, targetID, highest)
		}
	}

	pending := make([]*Migration, 0)
	for _, mig := range m.migrations {
		if highest != "" && compareIDs(mig.ID, highest) <= 0 {
			if _, ok := applied[mig.ID]; !ok {
				m.logger.Warn("skipping migration older than the latest applied one",
					"migration_id", mig.ID, "name", mig.Name, "latest_applied", highest)
			}
			continue
		}
		if targetID != "" && compareIDs(mig.ID, targetID) > 0 {
			break
		}
		pending = append(pending, mig)
	}

	return pending, nil
}

func (m *Migrator) planDown(records []MigrationRecord, targetID string) ([]*Migration, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: a target migration ID is required, use %s to reverse all migrations",
			ErrInvalidTarget, InitialID)
	}
	if targetID != InitialID {
		_, known := m.byID[targetID]
		recorded := false
		for _, r := range records {
			if r.ID == targetID {
				recorded = true
				break
			}
		}
		if !known && !recorded {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, targetID)
		}
	}

	plan := make([]*Migration, 0)
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if compareIDs(r.ID, targetID) <= 0 {
			break
		}
		mig, ok := m.byID[r.ID]
		if !ok {
			// Reversing it fails, but only once it's its turn.
			mig = &Migration{ID: r.ID, Name: r.Name}
		}
		plan = append(plan, mig)
	}

	return plan, nil
}

// operations returns the operations to run for the migration in the given
// direction.
func (m *Migrator) operations(mig *Migration, dir Direction) ([]Operation, error) {
	if dir == MigrationUp {
		return mig.Up, nil
	}
	if _, ok := m.byID[mig.ID]; !ok {
		return nil, &OperationError{
			Kind: ErrIrreversibleOperation,
			Msg:  fmt.Sprintf("migration %s is applied, but isn't known to this version", mig),
		}
	}
	return mig.Reverse()
}

// run applies or reverses a single migration in its own transaction.
func (m *Migrator) run(ctx context.Context, mig *Migration, dir Direction) (rec MigrationRecord, err error) {
	logger := m.logger.With("migration_id", mig.ID, "name", mig.Name, "direction", dir)
	defer func() {
		if err != nil {
			err = newMigrationError(mig, dir, err)
			logger.Error("migration failed", "error", err)
		}
	}()

	ops, err := m.operations(mig, dir)
	if err != nil {
		return rec, err
	}

	logger.Debug("starting", "operations", len(ops))

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("failed starting transaction: %w", err)
	}

	rec = MigrationRecord{ID: mig.ID, Name: mig.Name, AppliedAt: m.timeNow().UTC()}
	err = m.execute(ctx, tx, mig, dir, ops, rec.AppliedAt, func(stmt string) {
		logger.Debug("executing statement", "sql", stmt)
	})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("failed rolling back transaction", "error", rbErr)
		}
		return rec, err
	}

	if err = tx.Commit(); err != nil {
		return rec, fmt.Errorf("failed committing transaction: %w", err)
	}

	if dir == MigrationUp {
		logger.Info("applied migration")
	} else {
		logger.Info("reversed migration")
	}

	return rec, nil
}

// execute checks and applies each operation, then updates the history table.
// onStatement is called with every DDL statement before it's executed.
func (m *Migrator) execute(
	ctx context.Context, q types.Querier, mig *Migration, dir Direction,
	ops []Operation, appliedAt time.Time, onStatement func(string),
) error {
	for _, op := range ops {
		if err := check(ctx, m.dialect, q, op); err != nil {
			return err
		}

		stmts, err := m.dialect.Statements(ctx, q, op)
		if err != nil {
			return &OperationError{Op: op, Kind: ErrTransactionFailure, Msg: "failed rendering statements", Err: err}
		}

		for _, stmt := range stmts {
			if onStatement != nil {
				onStatement(stmt)
			}
			if _, err = q.ExecContext(ctx, stmt); err != nil {
				return &OperationError{
					Op: op, Kind: ErrTransactionFailure,
					Msg: "store rejected statement", Err: types.Err(string(op.Kind()), op.Target().String(), err),
				}
			}
		}
	}

	h := m.history()
	if dir == MigrationUp {
		return h.insert(ctx, q, mig, appliedAt)
	}
	return h.delete(ctx, q, mig)
}

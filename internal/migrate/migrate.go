// Package migrate implements the versioned, idempotent schema-migration
// framework shared by ChainDB and WalletDB: an ordered registry of
// migrations keyed by numeric ID, explicit operator-flag gating, skippable
// steps, and crash recovery via a persisted progress marker.
package migrate

import (
	"fmt"
	"sort"

	"github.com/hnsd-go/hnscore/internal/errs"
	"github.com/hnsd-go/hnscore/internal/store"
)

// Result is the outcome of a Migration's Check against the current
// database and operator options.
type Result int

const (
	// MigrateResult means the migration must run.
	MigrateResult Result = iota
	// Skip means the migration does not apply under the current mode
	// (pruning/SPV) and its ID is recorded as skipped.
	Skip
	// FakeMigrate means the schema change is a no-op against this
	// database (e.g. it was already empty) and the version can be bumped
	// without running Apply.
	FakeMigrate
)

// Migration is one schema step. ID is fixed at registration time and must
// never be reused or reordered once released.
type Migration interface {
	ID() uint32
	Description() string
	// Check inspects db/opts and returns how this migration should be
	// treated without mutating anything.
	Check(db store.DB, opts Options) (Result, error)
	// Apply performs the migration's writes inside the caller-provided
	// batch. It must not call Commit.
	Apply(db store.DB, batch store.Batch, opts Options) error
}

// Options carries the operator-gated flags that decide whether pending
// migrations are authorized to run.
type Options struct {
	// AuthorizedID is the highest migration ID the operator has
	// authorized via chain-migrate=<id> / wallet-migrate=<id>. -1 means
	// no flag was given.
	AuthorizedID int64
	Prune        bool
	SPV          bool
}

// authorizes reports whether the flag covers every pending ID up to id.
func (o Options) authorizes(id uint32) bool {
	return o.AuthorizedID >= 0 && uint64(o.AuthorizedID) >= uint64(id)
}

// Registry is an ordered, numeric mapping of id -> Migration known at
// build time. Tests construct their own Registry instead of relying on a
// process-wide mutable list.
type Registry struct {
	byID map[uint32]Migration
}

// NewRegistry builds a Registry from a set of migrations, keyed by their
// own IDs. Duplicate IDs are a programmer error and panic immediately.
func NewRegistry(migrations ...Migration) *Registry {
	r := &Registry{byID: make(map[uint32]Migration, len(migrations))}
	for _, m := range migrations {
		if _, exists := r.byID[m.ID()]; exists {
			panic(fmt.Sprintf("migrate: duplicate migration id %d", m.ID()))
		}
		r.byID[m.ID()] = m
	}
	return r
}

// IDs returns every registered ID in ascending order.
func (r *Registry) IDs() []uint32 {
	ids := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) get(id uint32) (Migration, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// state is the persisted migration-state record, stored at a single key
// (the "migrate migrations" bootstrap target of migration #0).
type state struct {
	LastMigration uint32   `json:"lastMigration"`
	NextMigration uint32   `json:"nextMigration"`
	Skipped       []uint32 `json:"skipped"`
	InProgress    bool     `json:"inProgress"`
	Progress      uint32   `json:"progress"`
}

// NeedsMigrationError is returned when pending MIGRATE-result migrations
// exist and the operator flag doesn't authorize them.
type NeedsMigrationError struct {
	Pending []uint32
}

func (e *NeedsMigrationError) Error() string {
	return fmt.Sprintf("pending migrations %v require an operator flag (chain-migrate=<id> or wallet-migrate=<id>) to proceed", e.Pending)
}

// Open runs the migrator against db: it determines the pending migration
// set from the registry and persisted state, classifies each with Check,
// and either runs authorized MIGRATE steps or refuses with
// NeedsMigrationError. logWarning receives one line per already-skipped ID
// on every open (spec: "a warning is logged once at every subsequent
// open").
func Open(db store.DB, reg *Registry, opts Options, logWarning func(string)) error {
	st, err := loadState(db)
	if err != nil {
		return err
	}

	if st.InProgress {
		if err := resume(db, reg, st, opts); err != nil {
			return err
		}
		st, err = loadState(db)
		if err != nil {
			return err
		}
	}

	for _, id := range st.Skipped {
		if logWarning != nil {
			logWarning(fmt.Sprintf("migration %d was skipped; data it would have computed may be inaccurate", id))
		}
	}

	pending := pendingIDs(reg, st.NextMigration)
	if len(pending) == 0 {
		return nil
	}

	var toRun []uint32
	var needAuth []uint32
	for _, id := range pending {
		m, ok := reg.get(id)
		if !ok {
			return errs.New(errs.Corrupt, "migrate: registry missing migration %d referenced by persisted state", id)
		}
		result, err := m.Check(db, opts)
		if err != nil {
			return errs.Wrap(errs.Corrupt, err, "migrate: check migration %d", id)
		}
		switch result {
		case Skip:
			st.Skipped = append(st.Skipped, id)
			toRun = append(toRun, id) // recorded but not applied; see runOne.
		case FakeMigrate, MigrateResult:
			if result == MigrateResult && !opts.authorizes(id) {
				needAuth = append(needAuth, id)
				continue
			}
			toRun = append(toRun, id)
		}
	}

	if len(needAuth) > 0 {
		return &NeedsMigrationError{Pending: needAuth}
	}

	for _, id := range toRun {
		if err := runOne(db, reg, &st, id, opts); err != nil {
			return err
		}
	}

	return nil
}

// pendingIDs returns every registered ID >= from, ascending.
func pendingIDs(reg *Registry, from uint32) []uint32 {
	var out []uint32
	for _, id := range reg.IDs() {
		if id >= from {
			out = append(out, id)
		}
	}
	return out
}

// runOne applies a single migration (or records its Skip/FakeMigrate
// disposition) inside one batch, persisting inProgress/progress around it
// for crash recovery.
func runOne(db store.DB, reg *Registry, st *state, id uint32, opts Options) error {
	m, ok := reg.get(id)
	if !ok {
		return errs.New(errs.Corrupt, "migrate: registry missing migration %d", id)
	}

	result, err := m.Check(db, opts)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "migrate: re-check migration %d", id)
	}

	st.InProgress = true
	st.Progress = id
	if err := saveState(db, *st); err != nil {
		return err
	}

	batch := db.NewBatch()
	if result == MigrateResult {
		if err := m.Apply(db, batch, opts); err != nil {
			return errs.Wrap(errs.Corrupt, err, "migrate: apply migration %d", id)
		}
	}

	st.LastMigration = id
	st.NextMigration = id + 1
	st.InProgress = false
	st.Progress = 0
	if err := putState(batch, *st); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return errs.Wrap(errs.IO, err, "migrate: commit migration %d", id)
	}
	return nil
}

// resume retries a migration whose previous run crashed mid-batch: since
// runOne wrote inProgress/progress before applying, re-running Check and
// Apply here is safe as long as Apply is itself idempotent, a requirement
// on every Migration implementation.
func resume(db store.DB, reg *Registry, st state, opts Options) error {
	return runOne(db, reg, &st, st.Progress, opts)
}

const stateKey = "migrate/state"

func loadState(db store.DB) (state, error) {
	raw, err := db.Get([]byte(stateKey))
	if errs.Is(err, errs.NotFound) {
		return state{NextMigration: 0}, nil
	}
	if err != nil {
		return state{}, errs.Wrap(errs.IO, err, "migrate: load state")
	}
	var st state
	if err := unmarshalState(raw, &st); err != nil {
		return state{}, errs.Wrap(errs.Corrupt, err, "migrate: decode state")
	}
	return st, nil
}

func saveState(db store.DB, st state) error {
	raw, err := marshalState(st)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "migrate: encode state")
	}
	if err := db.Put([]byte(stateKey), raw); err != nil {
		return errs.Wrap(errs.IO, err, "migrate: save state")
	}
	return nil
}

func putState(batch store.Batch, st state) error {
	raw, err := marshalState(st)
	if err != nil {
		return errs.Wrap(errs.Corrupt, err, "migrate: encode state")
	}
	return batch.Put([]byte(stateKey), raw)
}

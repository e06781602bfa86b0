package migrate

import (
	"github.com/hnsd-go/hnscore/internal/store"
)

// legacyMarkerPrefix is where a pre-Migrator database recorded applied
// migrations as one key per ID: "migrate/applied/<id>" -> "1".
const legacyMarkerPrefix = "migrate/applied/"

// Bootstrap is migration #0, the "migrate migrations" step: it converts
// any legacy per-id marker keys into the single state record this package
// reads and writes. Its presence or absence in a database is
// auto-detected by Check, so it is safe to always register it at ID 0.
type Bootstrap struct{}

func (Bootstrap) ID() uint32          { return 0 }
func (Bootstrap) Description() string { return "convert legacy per-id migration markers to unified state" }

// Check reports FakeMigrate when no legacy markers exist (nothing to do,
// but the version still advances past this step) and MigrateResult when
// at least one legacy marker is present.
func (Bootstrap) Check(db store.DB, _ Options) (Result, error) {
	found := false
	err := store.ForEachPrefix(db, []byte(legacyMarkerPrefix), func(key, value []byte) error {
		found = true
		return errStopIteration
	})
	if err != nil && err != errStopIteration {
		return 0, err
	}
	if !found {
		return FakeMigrate, nil
	}
	return MigrateResult, nil
}

// Apply deletes every legacy marker key. The caller (runOne) is
// responsible for bumping the unified state record to reflect that
// migration #0 itself has now run; individual legacy-era migrations are
// re-validated on their own terms by their own Check, not inferred from
// the deleted markers.
func (Bootstrap) Apply(db store.DB, batch store.Batch, _ Options) error {
	var keys [][]byte
	err := store.ForEachPrefix(db, []byte(legacyMarkerPrefix), func(key, value []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

var errStopIteration = &stopIterationError{}

type stopIterationError struct{}

func (*stopIterationError) Error() string { return "migrate: stop iteration" }

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
)

// checkpointKey is the single key the journal ever writes: spec.md §6
// specifies "Checkpoint file: single JSON document written after each
// round", not a history of checkpoints, so each Save overwrites the prior
// one rather than accumulating a log.
var checkpointKey = []byte("checkpoint/latest")

// Checkpoint is the JSON document spec.md §4.5 "Resumption" enumerates:
// targets, active tests, mutant statuses, coverage snapshots, and budget
// counters, plus the round number the planner reconstructs its queue at.
type Checkpoint struct {
	Round             int                                 `json:"round"`
	Targets           []model.Target                      `json:"targets"`
	ActiveTests       []model.TestCase                     `json:"active_tests"`
	MutantStatuses    map[model.MutantID]model.MutantStatus `json:"mutant_statuses"`
	CoverageSnapshots []model.CoverageSnapshot             `json:"coverage_snapshots"`
	Budget            model.BudgetCounter                   `json:"budget_counters"`
}

// CheckpointJournal is the single-key Badger-backed durable journal a run
// resumes from. Grounded on the teacher's services/trace/storage/badger
// package's Config/Open shape, narrowed from a general-purpose KV opener to
// the one thing this domain needs: read-modify-write a single JSON blob.
type CheckpointJournal struct {
	db *badger.DB
}

// OpenCheckpointJournal opens (creating if absent) a Badger database at
// dir. Pass an empty dir for an in-memory journal, used by tests.
func OpenCheckpointJournal(dir string) (*CheckpointJournal, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errkind.Wrap("store.OpenCheckpointJournal", errkind.SandboxIO, fmt.Errorf("create checkpoint dir: %w", err))
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(true).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errkind.Wrap("store.OpenCheckpointJournal", errkind.SandboxIO, fmt.Errorf("open badger: %w", err))
	}
	return &CheckpointJournal{db: db}, nil
}

// Close closes the underlying Badger database.
func (j *CheckpointJournal) Close() error {
	return j.db.Close()
}

// Save durably writes cp, overwriting whatever checkpoint came before it.
// Called after every round completes (spec.md §6).
func (j *CheckpointJournal) Save(cp Checkpoint) error {
	encoded, err := json.Marshal(cp)
	if err != nil {
		return errkind.Wrap("store.CheckpointJournal.Save", errkind.InternalInvariant, err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey, encoded)
	})
	if err != nil {
		return errkind.Wrap("store.CheckpointJournal.Save", errkind.SandboxIO, err)
	}
	return nil
}

// ErrNoCheckpoint is returned by Load when no checkpoint has been saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint saved")

// Load reads back the most recently saved Checkpoint. This is the "load" in
// spec.md §8 property 6's `load(save(state)) == state` round-trip.
func (j *CheckpointJournal) Load() (Checkpoint, error) {
	var cp Checkpoint
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoCheckpoint
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, ErrNoCheckpoint) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, errkind.Wrap("store.CheckpointJournal.Load", errkind.InternalInvariant, err)
	}
	return cp, nil
}

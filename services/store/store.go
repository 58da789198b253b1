// Package store is the DATA STORE (spec.md §2.8/§3): the durable record of
// targets, tests, mutants, evaluation runs, coverage snapshots, and budget
// usage, plus the checkpoint journal the Planner Agent resumes from.
//
// The relational half is grounded on original_source/comet/store/database.py's
// Database class (SQLite, one table per entity, INSERT OR REPLACE upserts);
// the checkpoint half is grounded on the teacher's
// services/trace/storage/badger/badger.go factory (Config/Open/DB wrapper),
// adapted from a general-purpose BadgerDB opener into a single-key JSON
// checkpoint journal.
//
// Per spec.md §5 "Shared resources", the store uses a single-writer model:
// only the planner's round loop calls the mutating methods here. Store does
// not itself enforce that; it is a property of its one caller.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/comet-forge/comet/internal/model"
	"github.com/comet-forge/comet/pkg/errkind"
)

// Store wraps the relational tables backing spec.md §3's five persisted
// entities (Target, Test Case, Mutant, Evaluation Run, Coverage Snapshot)
// plus the single-row Budget Counter.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database file at path and ensures the
// schema exists. path's parent directory is created if missing, matching
// database.py's `self.db_path.parent.mkdir(parents=True, exist_ok=True)`.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errkind.Wrap("store.Open", errkind.SandboxIO, fmt.Errorf("create data dir: %w", err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errkind.Wrap("store.Open", errkind.SandboxIO, fmt.Errorf("open sqlite: %w", err))
	}
	// One writer at a time: SQLite's own file lock plus this cap keeps
	// concurrent Exec calls from tripping "database is locked" under the
	// single-writer model spec.md §5 describes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS targets (
			class_fqn TEXT NOT NULL,
			method TEXT NOT NULL,
			param_types TEXT NOT NULL,
			source_file TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			line_end INTEGER NOT NULL,
			signature TEXT NOT NULL,
			javadoc TEXT,
			collaborators TEXT,
			facts TEXT,
			created_round INTEGER NOT NULL,
			PRIMARY KEY (class_fqn, method, param_types)
		)`,
		`CREATE TABLE IF NOT EXISTS test_cases (
			id TEXT PRIMARY KEY,
			class_fqn TEXT NOT NULL,
			method TEXT NOT NULL,
			param_types TEXT NOT NULL,
			test_class_name TEXT NOT NULL,
			test_method_name TEXT NOT NULL,
			source TEXT NOT NULL,
			created_round INTEGER NOT NULL,
			origin TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mutants (
			id INTEGER PRIMARY KEY,
			class_fqn TEXT NOT NULL,
			method TEXT NOT NULL,
			param_types TEXT NOT NULL,
			file_path TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			line_end INTEGER NOT NULL,
			original_code TEXT NOT NULL,
			mutated_code TEXT NOT NULL,
			semantic_intent TEXT NOT NULL,
			semantic_tag TEXT NOT NULL,
			pattern_id TEXT,
			status TEXT NOT NULL,
			killed_by TEXT,
			compile_error TEXT,
			created_round INTEGER NOT NULL,
			evaluated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS evaluation_runs (
			id TEXT PRIMARY KEY,
			mutant_id INTEGER NOT NULL,
			class_fqn TEXT NOT NULL,
			method TEXT NOT NULL,
			param_types TEXT NOT NULL,
			test_outcomes TEXT NOT NULL,
			wall_time_ms INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coverage_snapshots (
			class_fqn TEXT NOT NULL,
			method TEXT NOT NULL,
			param_types TEXT NOT NULL,
			round INTEGER NOT NULL,
			line_coverage REAL NOT NULL,
			branch_coverage REAL NOT NULL,
			killed_mutants INTEGER NOT NULL,
			survived_mutants INTEGER NOT NULL,
			tests_count INTEGER NOT NULL,
			PRIMARY KEY (class_fqn, method, param_types, round)
		)`,
		`CREATE TABLE IF NOT EXISTS budget_counter (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			llm_calls_used INTEGER NOT NULL,
			rounds_used INTEGER NOT NULL,
			last_improvement_round INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutants_status ON mutants(status)`,
		`CREATE INDEX IF NOT EXISTS idx_mutants_target ON mutants(class_fqn, method, param_types)`,
		`CREATE INDEX IF NOT EXISTS idx_tests_target ON test_cases(class_fqn, method, param_types)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errkind.Wrap("store.createTables", errkind.InternalInvariant, fmt.Errorf("%s: %w", stmt, err))
		}
	}
	return nil
}

// SaveTarget upserts a Target, keyed by its TargetID (spec.md §3: a Target
// is never deleted, only ever created or refreshed).
func (s *Store) SaveTarget(t model.Target) error {
	collaborators, err := json.Marshal(t.Collaborators)
	if err != nil {
		return errkind.Wrap("store.SaveTarget", errkind.InternalInvariant, err)
	}
	facts, err := json.Marshal(t.Facts)
	if err != nil {
		return errkind.Wrap("store.SaveTarget", errkind.InternalInvariant, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO targets VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID.ClassFQN, t.ID.Method, t.ID.ParamTypes,
		t.SourceFile, t.LineStart, t.LineEnd, t.Signature, t.Javadoc,
		string(collaborators), string(facts), t.CreatedRound,
	)
	if err != nil {
		return errkind.Wrap("store.SaveTarget", errkind.SandboxIO, err)
	}
	return nil
}

// AllTargets returns every persisted Target, in insertion (rowid) order.
func (s *Store) AllTargets() ([]model.Target, error) {
	rows, err := s.db.Query(`SELECT class_fqn, method, param_types, source_file, line_start, line_end,
		signature, javadoc, collaborators, facts, created_round FROM targets ORDER BY rowid`)
	if err != nil {
		return nil, errkind.Wrap("store.AllTargets", errkind.SandboxIO, err)
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		var t model.Target
		var javadoc sql.NullString
		var collaborators, facts string
		if err := rows.Scan(&t.ID.ClassFQN, &t.ID.Method, &t.ID.ParamTypes, &t.SourceFile,
			&t.LineStart, &t.LineEnd, &t.Signature, &javadoc, &collaborators, &facts, &t.CreatedRound); err != nil {
			return nil, errkind.Wrap("store.AllTargets", errkind.InternalInvariant, err)
		}
		t.Javadoc = javadoc.String
		if err := json.Unmarshal([]byte(collaborators), &t.Collaborators); err != nil {
			return nil, errkind.Wrap("store.AllTargets", errkind.InternalInvariant, err)
		}
		if err := json.Unmarshal([]byte(facts), &t.Facts); err != nil {
			return nil, errkind.Wrap("store.AllTargets", errkind.InternalInvariant, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTestCase upserts a Test Case by ID.
func (s *Store) SaveTestCase(tc model.TestCase) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO test_cases VALUES (?,?,?,?,?,?,?,?,?,?)`,
		string(tc.ID), tc.Target.ClassFQN, tc.Target.Method, tc.Target.ParamTypes,
		tc.TestClassName, tc.TestMethodName, tc.Source, tc.CreatedRound, tc.Origin, string(tc.Status),
	)
	if err != nil {
		return errkind.Wrap("store.SaveTestCase", errkind.SandboxIO, err)
	}
	return nil
}

// TestsForTarget returns every Test Case recorded against target, in
// insertion order, regardless of status (callers filter to Active
// themselves — spec.md §4.5's write-back discipline is additive, so
// rejected/superseded rows still matter for audit).
func (s *Store) TestsForTarget(target model.TargetID) ([]model.TestCase, error) {
	rows, err := s.db.Query(`SELECT id, class_fqn, method, param_types, test_class_name, test_method_name,
		source, created_round, origin, status FROM test_cases
		WHERE class_fqn = ? AND method = ? AND param_types = ? ORDER BY rowid`,
		target.ClassFQN, target.Method, target.ParamTypes)
	if err != nil {
		return nil, errkind.Wrap("store.TestsForTarget", errkind.SandboxIO, err)
	}
	defer rows.Close()

	var out []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		var id, status string
		if err := rows.Scan(&id, &tc.Target.ClassFQN, &tc.Target.Method, &tc.Target.ParamTypes,
			&tc.TestClassName, &tc.TestMethodName, &tc.Source, &tc.CreatedRound, &tc.Origin, &status); err != nil {
			return nil, errkind.Wrap("store.TestsForTarget", errkind.InternalInvariant, err)
		}
		tc.ID = model.TestID(id)
		tc.Status = model.TestStatus(status)
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ActiveTests returns target's currently active Test Cases, satisfying
// evaluator.TestSource so the Evaluator can scope kill/survive
// classification to just this target's own tests (spec.md §3: "A Mutant
// is evaluated only against its Target's current active Test Cases;
// cross-target tests never count").
func (s *Store) ActiveTests(target model.TargetID) ([]model.TestCase, error) {
	all, err := s.TestsForTarget(target)
	if err != nil {
		return nil, err
	}
	active := make([]model.TestCase, 0, len(all))
	for _, tc := range all {
		if tc.Status == model.StatusActive {
			active = append(active, tc)
		}
	}
	return active, nil
}

// SaveMutant upserts a Mutant by ID.
func (s *Store) SaveMutant(m model.Mutant) error {
	killedBy, err := json.Marshal(m.KilledBy)
	if err != nil {
		return errkind.Wrap("store.SaveMutant", errkind.InternalInvariant, err)
	}
	var evaluatedAt sql.NullString
	if !m.EvaluatedAt.IsZero() {
		evaluatedAt = sql.NullString{String: m.EvaluatedAt.Format(timeLayout), Valid: true}
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO mutants VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		int64(m.ID), m.Target.ClassFQN, m.Target.Method, m.Target.ParamTypes,
		m.Patch.FilePath, m.Patch.LineStart, m.Patch.LineEnd, m.Patch.OriginalCode, m.Patch.MutatedCode,
		m.SemanticIntent, string(m.SemanticTag), m.PatternID, string(m.Status),
		string(killedBy), m.CompileError, m.CreatedRound, evaluatedAt,
	)
	if err != nil {
		return errkind.Wrap("store.SaveMutant", errkind.SandboxIO, err)
	}
	return nil
}

// MutantsForTarget returns every mutant recorded against target.
func (s *Store) MutantsForTarget(target model.TargetID) ([]model.Mutant, error) {
	rows, err := s.db.Query(`SELECT id, class_fqn, method, param_types, file_path, line_start, line_end,
		original_code, mutated_code, semantic_intent, semantic_tag, pattern_id, status, killed_by,
		compile_error, created_round, evaluated_at FROM mutants
		WHERE class_fqn = ? AND method = ? AND param_types = ? ORDER BY id`,
		target.ClassFQN, target.Method, target.ParamTypes)
	if err != nil {
		return nil, errkind.Wrap("store.MutantsForTarget", errkind.SandboxIO, err)
	}
	defer rows.Close()
	return scanMutants(rows)
}

// MutantsByStatus returns every mutant across all targets in the given
// status, ordered by ID (used by the planner to reload mutants when a run
// resumes).
func (s *Store) MutantsByStatus(status model.MutantStatus) ([]model.Mutant, error) {
	rows, err := s.db.Query(`SELECT id, class_fqn, method, param_types, file_path, line_start, line_end,
		original_code, mutated_code, semantic_intent, semantic_tag, pattern_id, status, killed_by,
		compile_error, created_round, evaluated_at FROM mutants WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, errkind.Wrap("store.MutantsByStatus", errkind.SandboxIO, err)
	}
	defer rows.Close()
	return scanMutants(rows)
}

func scanMutants(rows *sql.Rows) ([]model.Mutant, error) {
	var out []model.Mutant
	for rows.Next() {
		var m model.Mutant
		var id int64
		var patternID, compileError sql.NullString
		var evaluatedAt sql.NullString
		var status, tag, killedBy string
		if err := rows.Scan(&id, &m.Target.ClassFQN, &m.Target.Method, &m.Target.ParamTypes,
			&m.Patch.FilePath, &m.Patch.LineStart, &m.Patch.LineEnd, &m.Patch.OriginalCode, &m.Patch.MutatedCode,
			&m.SemanticIntent, &tag, &patternID, &status, &killedBy,
			&compileError, &m.CreatedRound, &evaluatedAt); err != nil {
			return nil, errkind.Wrap("store.scanMutants", errkind.InternalInvariant, err)
		}
		m.ID = model.MutantID(id)
		m.SemanticTag = model.SemanticTag(tag)
		m.PatternID = patternID.String
		m.Status = model.MutantStatus(status)
		m.CompileError = compileError.String
		if err := json.Unmarshal([]byte(killedBy), &m.KilledBy); err != nil {
			return nil, errkind.Wrap("store.scanMutants", errkind.InternalInvariant, err)
		}
		if evaluatedAt.Valid {
			t, err := parseTime(evaluatedAt.String)
			if err != nil {
				return nil, errkind.Wrap("store.scanMutants", errkind.InternalInvariant, err)
			}
			m.EvaluatedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NextMutantID returns the next unused MutantID, per spec.md §3's "monotonic
// integer per run" identity rule.
func (s *Store) NextMutantID() (model.MutantID, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM mutants`).Scan(&max); err != nil {
		return 0, errkind.Wrap("store.NextMutantID", errkind.SandboxIO, err)
	}
	return model.MutantID(max.Int64 + 1), nil
}

// SaveEvaluationRun appends an Evaluation Run record. Runs are append-only
// (spec.md §3); there is no update path.
func (s *Store) SaveEvaluationRun(r model.EvaluationRun) error {
	outcomes := make(map[string]model.EvaluationOutcome, len(r.TestOutcomes))
	for id, outcome := range r.TestOutcomes {
		outcomes[string(id)] = outcome
	}
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return errkind.Wrap("store.SaveEvaluationRun", errkind.InternalInvariant, err)
	}
	_, err = s.db.Exec(`INSERT INTO evaluation_runs VALUES (?,?,?,?,?,?,?,?,?)`,
		r.ID, int64(r.MutantID), r.Target.ClassFQN, r.Target.Method, r.Target.ParamTypes,
		string(encoded), r.WallTime.Milliseconds(), r.ExitCode, r.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return errkind.Wrap("store.SaveEvaluationRun", errkind.SandboxIO, err)
	}
	return nil
}

// SaveCoverageSnapshot upserts a per-target, per-round Coverage Snapshot.
func (s *Store) SaveCoverageSnapshot(c model.CoverageSnapshot) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO coverage_snapshots VALUES (?,?,?,?,?,?,?,?,?)`,
		c.Target.ClassFQN, c.Target.Method, c.Target.ParamTypes, c.Round,
		c.LineCoverage, c.BranchCoverage, c.KilledMutants, c.SurvivedMutants, c.TestsCount,
	)
	if err != nil {
		return errkind.Wrap("store.SaveCoverageSnapshot", errkind.SandboxIO, err)
	}
	return nil
}

// LatestCoverageSnapshot returns the most recent Coverage Snapshot recorded
// for target, or the zero value with ok=false if none exists yet.
func (s *Store) LatestCoverageSnapshot(target model.TargetID) (snap model.CoverageSnapshot, ok bool, err error) {
	row := s.db.QueryRow(`SELECT class_fqn, method, param_types, round, line_coverage, branch_coverage,
		killed_mutants, survived_mutants, tests_count FROM coverage_snapshots
		WHERE class_fqn = ? AND method = ? AND param_types = ? ORDER BY round DESC LIMIT 1`,
		target.ClassFQN, target.Method, target.ParamTypes)
	scanErr := row.Scan(&snap.Target.ClassFQN, &snap.Target.Method, &snap.Target.ParamTypes, &snap.Round,
		&snap.LineCoverage, &snap.BranchCoverage, &snap.KilledMutants, &snap.SurvivedMutants, &snap.TestsCount)
	if scanErr == sql.ErrNoRows {
		return model.CoverageSnapshot{}, false, nil
	}
	if scanErr != nil {
		return model.CoverageSnapshot{}, false, errkind.Wrap("store.LatestCoverageSnapshot", errkind.SandboxIO, scanErr)
	}
	return snap, true, nil
}

// AllLatestCoverageSnapshots returns the most recent Coverage Snapshot for
// every target that has at least one.
func (s *Store) AllLatestCoverageSnapshots() ([]model.CoverageSnapshot, error) {
	rows, err := s.db.Query(`SELECT class_fqn, method, param_types, MAX(round) as round, line_coverage,
		branch_coverage, killed_mutants, survived_mutants, tests_count FROM coverage_snapshots
		GROUP BY class_fqn, method, param_types`)
	if err != nil {
		return nil, errkind.Wrap("store.AllLatestCoverageSnapshots", errkind.SandboxIO, err)
	}
	defer rows.Close()

	var out []model.CoverageSnapshot
	for rows.Next() {
		var snap model.CoverageSnapshot
		if err := rows.Scan(&snap.Target.ClassFQN, &snap.Target.Method, &snap.Target.ParamTypes, &snap.Round,
			&snap.LineCoverage, &snap.BranchCoverage, &snap.KilledMutants, &snap.SurvivedMutants, &snap.TestsCount); err != nil {
			return nil, errkind.Wrap("store.AllLatestCoverageSnapshots", errkind.InternalInvariant, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveBudget replaces the single Budget Counter row.
func (s *Store) SaveBudget(b model.BudgetCounter) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO budget_counter (id, llm_calls_used, rounds_used, last_improvement_round)
		VALUES (1, ?, ?, ?)`, b.LLMCallsUsed, b.RoundsUsed, b.LastImprovementRound)
	if err != nil {
		return errkind.Wrap("store.SaveBudget", errkind.SandboxIO, err)
	}
	return nil
}

// LoadBudget returns the persisted Budget Counter, or the zero value if the
// run has not saved one yet.
func (s *Store) LoadBudget() (model.BudgetCounter, error) {
	var b model.BudgetCounter
	err := s.db.QueryRow(`SELECT llm_calls_used, rounds_used, last_improvement_round FROM budget_counter WHERE id = 1`).
		Scan(&b.LLMCallsUsed, &b.RoundsUsed, &b.LastImprovementRound)
	if err == sql.ErrNoRows {
		return model.BudgetCounter{}, nil
	}
	if err != nil {
		return model.BudgetCounter{}, errkind.Wrap("store.LoadBudget", errkind.SandboxIO, err)
	}
	return b, nil
}

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

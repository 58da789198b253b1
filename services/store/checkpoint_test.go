package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/internal/model"
)

func TestCheckpointLoadWithNothingSavedReturnsErrNoCheckpoint(t *testing.T) {
	j, err := OpenCheckpointJournal("")
	require.NoError(t, err)
	defer j.Close()

	_, err = j.Load()
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestCheckpointSaveThenLoadRoundTrips(t *testing.T) {
	j, err := OpenCheckpointJournal("")
	require.NoError(t, err)
	defer j.Close()

	target := model.TargetID{ClassFQN: "com.example.Warehouse", Method: "addStock", ParamTypes: "String,int"}
	cp := Checkpoint{
		Round: 3,
		Targets: []model.Target{
			{ID: target, SourceFile: "Warehouse.java", LineStart: 5, LineEnd: 9, Signature: "void addStock(String sku, int qty)"},
		},
		ActiveTests: []model.TestCase{
			{ID: "t1", Target: target, TestClassName: "Warehouse_addStockTest", TestMethodName: "testZeroQuantity", Status: model.StatusActive},
		},
		MutantStatuses: map[model.MutantID]model.MutantStatus{
			1: model.MutantSurvived,
			2: model.MutantKilled,
		},
		CoverageSnapshots: []model.CoverageSnapshot{
			{Target: target, Round: 3, LineCoverage: 0.75, BranchCoverage: 0.6, KilledMutants: 1, SurvivedMutants: 1},
		},
		Budget: model.BudgetCounter{LLMCallsUsed: 42, RoundsUsed: 3, LastImprovementRound: 2},
	}

	require.NoError(t, j.Save(cp))

	loaded, err := j.Load()
	require.NoError(t, err)
	assert.Equal(t, cp, loaded)
}

func TestCheckpointSaveOverwritesPriorCheckpoint(t *testing.T) {
	j, err := OpenCheckpointJournal("")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Save(Checkpoint{Round: 1, Budget: model.BudgetCounter{LLMCallsUsed: 5}}))
	require.NoError(t, j.Save(Checkpoint{Round: 2, Budget: model.BudgetCounter{LLMCallsUsed: 10}}))

	loaded, err := j.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Round)
	assert.Equal(t, 10, loaded.Budget.LLMCallsUsed)
}

func TestOpenCheckpointJournalOnDiskPersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint")

	j1, err := OpenCheckpointJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j1.Save(Checkpoint{Round: 7}))
	require.NoError(t, j1.Close())

	j2, err := OpenCheckpointJournal(dir)
	require.NoError(t, err)
	defer j2.Close()

	loaded, err := j2.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Round)
}

package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/loadout/internal/engine/mocks"
	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/ruleset"
	"github.com/anstrom/loadout/internal/store"
)

func TestOrchestrate_DeclaredOrderDespiteCompletionOrder(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "staggered", `
- execute: "sleep 0.6; echo first"
- execute: "sleep 0.3; echo second"
- execute: "echo third"
`)
	mem := store.NewMemory()
	scanID := newScan(t, mem)
	e := newTestEngine(t, dir, mem, Options{})

	set, err := ruleset.NewLoader(dir).Load("staggered", ruleset.Context{})
	require.NoError(t, err)

	pairs, err := e.orchestrate(context.Background(), scanID, set)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	for i, want := range []string{"first\n", "second\n", "third\n"} {
		assert.Equal(t, set.Commands[i].Resolved, pairs[i].Command.Resolved)
		assert.Equal(t, want, pairs[i].Record.Output)
	}
	// completion order shows in record ids: the last command finished first
	assert.Less(t, pairs[2].Record.ID, pairs[0].Record.ID)
}

func TestOrchestrate_IdenticalCommandTextGetsOwnRecords(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "twins", `
- execute: "echo same"
  loots:
    - regex: "same"
      results:
        - id: 1
- execute: "echo same"
  loots:
    - regex: "same"
      results:
        - id: 2
`)
	mem := store.NewMemory()
	scanID := newScan(t, mem)
	e := newTestEngine(t, dir, mem, Options{})

	set, err := ruleset.NewLoader(dir).Load("twins", ruleset.Context{})
	require.NoError(t, err)

	pairs, err := e.orchestrate(context.Background(), scanID, set)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.NotEqual(t, pairs[0].Record.ID, pairs[1].Record.ID)
	assert.NotEqual(t, pairs[0].Record.Token, pairs[1].Record.Token)
}

func TestOrchestrate_MissingRecordIsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "lost", `- execute: "echo lost"`)

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().CreateExecutionRecord(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	st.EXPECT().FetchExecutionRecords(gomock.Any(), int64(7), "echo lost", gomock.Any()).Return(nil, nil)

	res, err := newTestEngine(t, dir, st, Options{}).RunBulletSet(context.Background(), 7, "lost", ruleset.Context{})
	require.Error(t, err)
	assert.Nil(t, res, "no partial result after an integrity failure")
	assert.True(t, errors.IsIntegrityError(err))
	assert.True(t, errors.IsFatal(err))

	var integrityErr *errors.IntegrityError
	require.True(t, stderrors.As(err, &integrityErr))
	assert.Equal(t, int64(7), integrityErr.ScanID)
	assert.Equal(t, "echo lost", integrityErr.Command)
	assert.Equal(t, 0, integrityErr.Position)
	assert.NotEmpty(t, integrityErr.Token)
}

func TestOrchestrate_FetchUsesDispatchToken(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "tok", `- execute: "echo tok"`)

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)

	var written store.ExecutionRecord
	st.EXPECT().CreateExecutionRecord(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *store.ExecutionRecord) (int64, error) {
			written = *rec
			return 11, nil
		})
	st.EXPECT().FetchExecutionRecords(gomock.Any(), int64(3), "echo tok", gomock.Any()).
		DoAndReturn(func(_ context.Context, scanID int64, command, token string) ([]store.ExecutionRecord, error) {
			assert.Equal(t, written.Token, token)
			rec := written
			rec.ID = 11
			return []store.ExecutionRecord{rec}, nil
		})

	res, err := newTestEngine(t, dir, st, Options{}).RunBulletSet(context.Background(), 3, "tok", ruleset.Context{})
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "tok\n", written.Output)
}

func TestOrchestrate_StoreWriteFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "unwritable", `- execute: "echo data"`)

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().CreateExecutionRecord(gomock.Any(), gomock.Any()).Return(int64(0), stderrors.New("disk full"))

	_, err := newTestEngine(t, dir, st, Options{}).RunBulletSet(context.Background(), 1, "unwritable", ruleset.Context{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStoreWrite))
	assert.True(t, errors.IsFatal(err))
	assert.ErrorContains(t, err, "Failed to persist execution record")
}

func TestOrchestrate_FetchErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	writeBullet(t, dir, "flaky", `- execute: "echo data"`)

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().CreateExecutionRecord(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	st.EXPECT().FetchExecutionRecords(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error"))

	_, err := newTestEngine(t, dir, st, Options{}).RunBulletSet(context.Background(), 1, "flaky", ruleset.Context{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabaseConnection))
}

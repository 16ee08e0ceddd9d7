package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/meterkeeper/internal/core/db"
	"github.com/solatis/meterkeeper/internal/types"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var entityColumns = []string{"entity_id", "kind", "status", "fields", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	q, err := db.LoadQueries(sqlx.NewDb(conn, "sqlite3"))
	require.NoError(t, err)

	s := New(q)
	s.now = func() time.Time { return fixed }
	return s, mock
}

func expectGet(mock sqlmock.Sqlmock, status, fields string) {
	rows := sqlmock.NewRows(entityColumns).
		AddRow("m-1", "metric", status, fields, fixed.UnixMilli(), fixed.UnixMilli())
	mock.ExpectQuery(regexp.QuoteMeta("FROM entities")).
		WithArgs("t-1", "metric", "m-1").
		WillReturnRows(rows)
}

func TestStore_Create(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
		WithArgs(sqlmock.AnyArg(), "t-1", "metric", "DRAFT", `{"name":"Calls"}`, fixed.UnixMilli(), fixed.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := s.Create(context.Background(), "t-1", types.KindMetric, types.ChangeSet{
		types.FieldName:        types.Text("Calls"),
		types.FieldDescription: types.Unset(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDraft, rec.Status)
	assert.NotEqual(t, types.NoID, rec.ID)
	assert.Equal(t, types.FieldValues{types.FieldName: types.Text("Calls")}, rec.Values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRejectsUnknownField(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.Create(context.Background(), "t-1", types.KindMetric, types.ChangeSet{types.FieldEmail: types.Text("a@x.com")})
	assert.ErrorIs(t, err, types.ErrUnknownField)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM entities")).
		WithArgs("t-1", "metric", "m-1").
		WillReturnRows(sqlmock.NewRows(entityColumns))

	_, err := s.Get(context.Background(), "t-1", types.KindMetric, "m-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateClearsFields(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectGet(mock, "DRAFT", `{"name":"Calls","description":"old","usage_conditions":[{"dimension":"AMOUNT","operator":">","value":"5"}]}`)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE entities SET fields")).
		WithArgs(`{"name":"Calls"}`, fixed.UnixMilli(), "t-1", "metric", "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Update(context.Background(), "t-1", types.KindMetric, "m-1", types.ChangeSet{
		types.FieldDescription:     types.Unset(),
		types.FieldUsageConditions: types.Conditions(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []types.Field{types.FieldName}, rec.Values.Fields())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Conflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("update active", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		expectGet(mock, "ACTIVE", `{"name":"Calls"}`)
		mock.ExpectRollback()

		_, err := s.Update(ctx, "t-1", types.KindMetric, "m-1", types.ChangeSet{types.FieldName: types.Text("x")})
		assert.ErrorIs(t, err, types.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finalize active", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		expectGet(mock, "ACTIVE", `{"name":"Calls"}`)
		mock.ExpectRollback()

		_, err := s.Finalize(ctx, "t-1", types.KindMetric, "m-1", nil)
		assert.ErrorIs(t, err, types.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete active", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		expectGet(mock, "ACTIVE", `{"name":"Calls"}`)
		mock.ExpectRollback()

		err := s.Delete(ctx, "t-1", types.KindMetric, "m-1")
		assert.ErrorIs(t, err, types.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_FinalizeRejected(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	expectGet(mock, "DRAFT", `{"name":"Calls"}`)
	mock.ExpectRollback()

	rejection := &types.ValidationError{Errors: types.FieldErrors{types.FieldEntityType: "is required"}}
	_, err := s.Finalize(context.Background(), "t-1", types.KindMetric, "m-1", func(values types.FieldValues) error {
		assert.Equal(t, "Calls", values.Get(types.FieldName).String())
		return rejection
	})

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "is required", ve.Errors[types.FieldEntityType])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FinalizeAndDelete(t *testing.T) {
	ctx := context.Background()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectGet(mock, "DRAFT", `{"name":"Calls"}`)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'ACTIVE'")).
		WithArgs(fixed.UnixMilli(), "t-1", "metric", "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Finalize(ctx, "t-1", types.KindMetric, "m-1", func(types.FieldValues) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	s, mock = newMockStore(t)
	mock.ExpectBegin()
	expectGet(mock, "DRAFT", `{}`)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entities")).
		WithArgs("t-1", "metric", "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Delete(ctx, "t-1", types.KindMetric, "m-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(entityColumns).
		AddRow("c-1", "customer", "ACTIVE", `{"email":"a@x.com","tags":["vip"]}`, fixed.UnixMilli(), fixed.UnixMilli()).
		AddRow("c-2", "customer", "DRAFT", `{}`, fixed.UnixMilli(), fixed.UnixMilli())
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY entity_id")).
		WithArgs("t-1", "customer").
		WillReturnRows(rows)

	recs, err := s.List(context.Background(), "t-1", types.KindCustomer)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"vip"}, recs[0].Values.Get(types.FieldTags).Strings())
	assert.Equal(t, types.StatusDraft, recs[1].Status)
	assert.Equal(t, fixed, recs[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Round trip through a migrated sqlite file.
func TestStore_SQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)
	s := New(q)

	rec, err := s.Create(ctx, "t-1", types.KindCustomer, types.ChangeSet{
		types.FieldEmail: types.Text("a@x.com"),
		types.FieldTags:  types.List([]string{"vip"}),
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "t-2", types.KindCustomer, rec.ID)
	assert.ErrorIs(t, err, types.ErrNotFound, "other tenants must not see the draft")

	rec, err = s.Update(ctx, "t-1", types.KindCustomer, rec.ID, types.ChangeSet{types.FieldTags: types.List(nil)})
	require.NoError(t, err)
	assert.False(t, rec.Values.Get(types.FieldEmail).IsEmpty())

	got, err := s.Get(ctx, "t-1", types.KindCustomer, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.Field{types.FieldEmail}, got.Values.Fields())

	_, err = s.Finalize(ctx, "t-1", types.KindCustomer, rec.ID, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Delete(ctx, "t-1", types.KindCustomer, rec.ID), types.ErrConflict)

	recs, err := s.List(ctx, "t-1", types.KindCustomer)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.StatusActive, recs[0].Status)
}

package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	return store, mock
}

func TestListCompaniesWithSourcesGroupsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT c.name, s.name").
		WillReturnRows(pgxmock.NewRows([]string{"company", "source"}).
			AddRow("Acme", ptr("CNBC")).
			AddRow("Acme", ptr("Reuters")).
			AddRow("Globex", (*string)(nil)).
			AddRow("Initech", ptr("BBC")))

	got, err := store.ListCompaniesWithSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []newsfeed.CompanySources{
		{Company: "Acme", Sources: []string{"CNBC", "Reuters"}},
		{Company: "Globex", Sources: []string{}},
		{Company: "Initech", Sources: []string{"BBC"}},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCompaniesWithSourcesQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT c.name, s.name").WillReturnError(errors.New("connection reset"))

	_, err := store.ListCompaniesWithSources(context.Background())
	require.ErrorContains(t, err, "connection reset")
}

func TestSeedCreatesInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO companies").WithArgs("Acme").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(1), true))
	mock.ExpectQuery("INSERT INTO sources").WithArgs("Reuters").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(10), true))
	mock.ExpectExec("INSERT INTO company_source").WithArgs(int64(1), int64(10)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO sources").WithArgs("CNBC").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(11), false))
	mock.ExpectExec("INSERT INTO company_source").WithArgs(int64(1), int64(11)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	stats, err := store.Seed(context.Background(), []newsfeed.CompanySources{
		{Company: " Acme ", Sources: []string{"Reuters", "CNBC", "Reuters "}},
	})
	require.NoError(t, err)
	assert.Equal(t, SeedStats{CompaniesCreated: 1, SourcesCreated: 1}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO companies").WithArgs("Acme").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := store.Seed(context.Background(), []newsfeed.CompanySources{{Company: "Acme", Sources: []string{"BBC"}}})
	require.ErrorContains(t, err, "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedValidatesBeforeTouchingDatabase(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.Seed(context.Background(), []newsfeed.CompanySources{{Company: "Acme", Sources: []string{" "}}})
	require.ErrorIs(t, err, newsfeed.ErrValidation)
	_, err = store.Seed(context.Background(), []newsfeed.CompanySources{{Company: ""}})
	require.ErrorIs(t, err, newsfeed.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for _, table := range []string{"companies", "sources", "company_source"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "down")
}

func TestConnectRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func ptr(s string) *string { return &s }

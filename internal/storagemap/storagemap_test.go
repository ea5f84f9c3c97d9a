package storagemap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingConnector is a driver.Connector whose Connect always fails, used to
// exercise error paths without a real database.
type failingConnector struct{}

func (failingConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("no connection available")
}

func (failingConnector) Driver() driver.Driver { return failingConnector{} }

func (failingConnector) Open(string) (driver.Conn, error) {
	return nil, errors.New("no connection available")
}

func failingDB() *sql.DB {
	return sql.OpenDB(failingConnector{})
}

// connectableConnector succeeds at Connect but returns a conn whose every
// statement preparation fails, letting a test reach QueryContext itself
// rather than failing at the ping/connect stage.
type connectableConnector struct{}

func (connectableConnector) Connect(context.Context) (driver.Conn, error) {
	return queryFailingConn{}, nil
}

func (connectableConnector) Driver() driver.Driver { return connectableConnector{} }

func (connectableConnector) Open(string) (driver.Conn, error) {
	return queryFailingConn{}, nil
}

type queryFailingConn struct{}

func (queryFailingConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("syntax error")
}

func (queryFailingConn) Close() error { return nil }

func (queryFailingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

// oneRowConnector connects successfully and answers every query with a
// single (user, root) row, letting a test drive a successful load.
type oneRowConnector struct{}

func (oneRowConnector) Connect(context.Context) (driver.Conn, error) { return oneRowConn{}, nil }

func (oneRowConnector) Driver() driver.Driver { return oneRowConnector{} }

func (oneRowConnector) Open(string) (driver.Conn, error) { return oneRowConn{}, nil }

type oneRowConn struct{}

func (oneRowConn) Prepare(string) (driver.Stmt, error) { return oneRowStmt{}, nil }

func (oneRowConn) Close() error { return nil }

func (oneRowConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type oneRowStmt struct{}

func (oneRowStmt) Close() error { return nil }

func (oneRowStmt) NumInput() int { return -1 }

func (oneRowStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("exec not supported")
}

func (oneRowStmt) Query([]driver.Value) (driver.Rows, error) { return &oneRowRows{}, nil }

type oneRowRows struct{ done bool }

func (*oneRowRows) Columns() []string { return []string{"user_id", "mount_point"} }

func (*oneRowRows) Close() error { return nil }

func (r *oneRowRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = "alice"
	dest[1] = "files/"
	return nil
}

func TestQueryUsesPositionalPlaceholderForPostgres(t *testing.T) {
	c := New(failingDB(), "oc_", DialectPositional)
	assert.Contains(t, c.query(), "$1")
	assert.Contains(t, c.query(), "oc_mounts")
}

func TestQueryUsesQuestionPlaceholderForMySQL(t *testing.T) {
	c := New(failingDB(), "oc_", DialectQuestion)
	assert.Contains(t, c.query(), "?")
	assert.NotContains(t, c.query(), "$1")
}

func TestUsersForMatchesPathPrefix(t *testing.T) {
	c := New(failingDB(), "oc_", DialectPositional)
	alice := identity.New("alice")
	bob := identity.New("bob")

	c.mu.Lock()
	c.entries["42"] = &cachedMapping{
		access: []StorageAccess{
			{User: alice, Root: "files/Documents/"},
			{User: bob, Root: "files/Photos/"},
		},
		validTill: time.Now().Add(time.Minute),
	}
	c.mu.Unlock()

	users, err := c.UsersFor(t.Context(), "42", "files/Documents/report.odt")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, alice, users[0])
}

func TestUsersForReturnsEmptyWhenNoPrefixMatches(t *testing.T) {
	c := New(failingDB(), "oc_", DialectPositional)
	c.mu.Lock()
	c.entries["42"] = &cachedMapping{
		access:    []StorageAccess{{User: identity.New("alice"), Root: "files/Documents/"}},
		validTill: time.Now().Add(time.Minute),
	}
	c.mu.Unlock()

	users, err := c.UsersFor(t.Context(), "42", "files/Photos/a.jpg")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestAccessForReloadsOnceEntryHasExpired(t *testing.T) {
	c := New(failingDB(), "oc_", DialectPositional)
	c.mu.Lock()
	c.entries["42"] = &cachedMapping{
		access:    []StorageAccess{{User: identity.New("alice"), Root: "files/"}},
		validTill: time.Now().Add(-time.Second),
	}
	c.mu.Unlock()

	// the connector always fails, so a reload attempt errors out; this
	// proves the stale entry was not treated as a cache hit.
	_, err := c.accessFor(t.Context(), "42")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestLoadReturnsErrConnectWhenDatabaseIsUnreachable(t *testing.T) {
	c := New(failingDB(), "oc_", DialectPositional)

	_, err := c.load(t.Context(), "42")
	assert.ErrorIs(t, err, ErrConnect)
	assert.NotErrorIs(t, err, ErrQuery)
}

func TestLoadReturnsErrQueryWhenConnectedButQueryFails(t *testing.T) {
	c := New(sql.OpenDB(connectableConnector{}), "oc_", DialectPositional)

	_, err := c.load(t.Context(), "42")
	assert.ErrorIs(t, err, ErrQuery)
	assert.NotErrorIs(t, err, ErrConnect)
}

func TestCacheEntryTTLIsJitteredWithinBounds(t *testing.T) {
	c := New(sql.OpenDB(oneRowConnector{}), "oc_", DialectPositional)

	before := time.Now()
	_, err := c.accessFor(t.Context(), "42")
	require.NoError(t, err)
	after := time.Now()

	c.mu.RLock()
	entry := c.entries["42"]
	c.mu.RUnlock()
	require.NotNil(t, entry)
	assert.False(t, entry.validTill.Before(before.Add(ttlMin)))
	assert.True(t, entry.validTill.Before(after.Add(ttlMax)))
}

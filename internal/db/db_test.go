package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"os/exec"
	"testing"

	"viabill-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.internal",
		DBUser:     "viabill",
		DBPassword: "s3cret",
		DBName:     "payments",
		DBPort:     "6432",
	}

	assert.Equal(t,
		"host=db.internal user=viabill password=s3cret dbname=payments port=6432 sslmode=disable",
		buildDSN(cfg),
	)
}

func TestNewDatabase(t *testing.T) {
	t.Run("UnknownDriver", func(t *testing.T) {
		db, err := newDatabaseWithDriver(&config.Config{}, "no_such_driver")

		assert.Nil(t, db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to DB")
	})

	t.Run("PingFails", func(t *testing.T) {
		db, err := newDatabaseWithDriver(&config.Config{}, "viabill_ping_fails")

		assert.Nil(t, db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping DB")
	})

	t.Run("Success", func(t *testing.T) {
		db, err := newDatabaseWithDriver(&config.Config{DBHost: "localhost"}, "viabill_ping_ok")

		require.NoError(t, err)
		assert.NotNil(t, db)
		db.Close()
	})
}

func TestInitDB_FatalOnFailure(t *testing.T) {
	// InitDB exits the process, so run it in a child test binary.
	if os.Getenv("VIABILL_DB_CRASHER") == "1" {
		InitDB(&config.Config{DBHost: "invalid_host", DBPort: "5432"})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestInitDB_FatalOnFailure")
	cmd.Env = append(os.Environ(), "VIABILL_DB_CRASHER=1")
	err := cmd.Run()

	if e, ok := err.(*exec.ExitError); ok && !e.Success() {
		return
	}
	t.Fatalf("process ran with err %v, want non-zero exit status", err)
}

// --- fake drivers ---

type fakeDriver struct{ pingErr error }

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{pingErr: d.pingErr}, nil
}

type fakeConn struct{ pingErr error }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)                 { return nil, driver.ErrSkip }

// fakeConn implements driver.Pinger so Ping reports the configured error.
func (c *fakeConn) Ping(_ context.Context) error { return c.pingErr }

func init() {
	sql.Register("viabill_ping_ok", &fakeDriver{})
	sql.Register("viabill_ping_fails", &fakeDriver{pingErr: errors.New("connection refused")})
}

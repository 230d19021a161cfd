//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// PostgresContainer is a Postgres server plus an open lib/pq handle.
type PostgresContainer struct {
	DSN string
	DB  *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	c, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("beacon"),
		tcpostgres.WithUsername("beacon"),
		tcpostgres.WithPassword("beacon"),
		tcpostgres.BasicWaitStrategies(),
	)
	c = started(t, "postgres", c, err)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	check(t, "postgres connection string", err)
	db, err := sql.Open("postgres", dsn)
	check(t, "open postgres", err)
	t.Cleanup(func() { _ = db.Close() })
	check(t, "ping postgres", db.PingContext(ctx))

	return &PostgresContainer{DSN: dsn, DB: db}
}

// Exec runs setup statements in order and fails the test on the first error.
func (p *PostgresContainer) Exec(t *testing.T, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

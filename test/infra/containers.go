package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PGContainer struct {
	C *postgres.PostgresContainer
}

// reuseDSN returns a caller-supplied database to run against instead of a
// container: the -dsn flag wins, then STRESS_TEST_PG_DSN.
func reuseDSN(override string) string {
	if override != "" {
		return override
	}
	return os.Getenv("STRESS_TEST_PG_DSN")
}

// StartPostgres16 provides the stress database: a shared DSN when one is
// configured, otherwise a fresh Postgres 16 container.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if dsn := reuseDSN(overrideDSN); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("escrowdb"),
		postgres.WithUsername("escrow"),
		postgres.WithPassword("escrow-stress"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}

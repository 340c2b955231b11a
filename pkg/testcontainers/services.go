package testcontainers

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/clover/pkg/database"
)

const (
	postgresUser     = "user"
	postgresPassword = "password"
	postgresDB       = "clover"
)

// Postgres is a disposable postgres container with the clover migrations applied.
type Postgres struct {
	container testcontainers.Container
	DB        database.DB
	Config    database.ConnectionConfig
}

// StartPostgres starts postgres, connects, and migrates it to the latest version.
func StartPostgres(ctx context.Context, logger ectologger.Logger) (*Postgres, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	cfg := database.ConnectionConfig{
		Host:     host,
		Port:     port.Port(),
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
	}
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "db/pg"})
	if err := migrations.MigratePostgres(db, postgresDB); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	return &Postgres{container: container, DB: db, Config: cfg}, nil
}

// Truncate empties the given tables between tests.
func (p *Postgres) Truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Terminate(ctx context.Context) {
	_ = p.DB.Close()
	_ = p.container.Terminate(ctx)
}

// StartRedis starts redis and returns the container and its host:port address.
func StartRedis(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start redis: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}

	return container, fmt.Sprintf("%s:%s", host, port.Port()), nil
}

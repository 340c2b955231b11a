package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	AutoRollback        bool // force back to the previous version when a migration leaves the schema dirty
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// resolveMigrationFolder walks up from the working directory until the folder is found,
// so tests running inside package directories locate db/pg at the module root.
func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if filepath.IsAbs(folder) {
		return folder
	}

	dir, err := os.Getwd()
	if err != nil {
		return folder
	}
	for {
		candidate := filepath.Join(dir, folder)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return folder
		}
		dir = parent
	}
}

// MigratePostgres applies the migrations to the database behind db.
func (ms *MigrationService) MigratePostgres(db DB, databaseName string) error {
	driver, err := postgres.WithInstance(db.Raw().DB, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "failed to create postgres migration driver")
	}

	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.runMigration(m, folder)
}

func (ms *MigrationService) runMigration(m *migrate.Migrate, folder string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	startTime := time.Now()

	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}

	ms.logger.Infof("Database migrations completed in %v", time.Since(startTime))

	return ms.handleMigrationError(m, migrationErr, version, folder)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint, folder string) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}

	if err == migrate.ErrNoChange {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	// usually a rollback to a build that predates the recorded version
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := getLatestVersion(folder)
		if latestErr != nil {
			ms.logger.WithError(latestErr).Error("Failed to get latest migration version")
			return err
		}
		ms.logger.Warnf("No migration found for version %d. Forcing database to version %d", previousVersion, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
		return err
	}

	if ms.config.AutoRollback && dirty {
		if previousVersion == 0 && version > 0 {
			previousVersion = version - 1
		}
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previousVersion)
		if forceErr := m.Force(int(previousVersion)); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previousVersion)
			return forceErr
		}
	}

	// still fail so the process does not start against a half-migrated schema
	return err
}

func getLatestVersion(folderPath string) (int, error) {
	files, err := os.ReadDir(folderPath)
	if err != nil {
		return 0, err
	}

	var versions []int
	re := regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := re.FindStringSubmatch(file.Name())
		if len(matches) > 1 {
			version, err := strconv.Atoi(matches[1])
			if err != nil {
				return 0, err
			}
			versions = append(versions, version)
		}
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}

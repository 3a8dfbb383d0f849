package repository

import (
	"context"
	"time"

	pkglogger "github.com/ClareAI/astra-dialout-service/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RepositoryManager combines the durable stores behind the orchestrator
type RepositoryManager interface {
	CallRecord() *CallRecordRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db             *gorm.DB
	callRecordRepo *CallRecordRepository
}

// Open connects to Postgres and runs the schema migration for the call audit
// tables
func Open(dsn string) (*GormRepositoryManager, error) {
	gl := gormlogger.New(pkglogger.NewGORMWriter(), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Error,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CallRecordRow{}, &CallEventRow{}); err != nil {
		return nil, err
	}

	return NewGormRepositoryManager(db), nil
}

// NewGormRepositoryManager wraps an existing gorm handle
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:             db,
		callRecordRepo: NewCallRecordRepository(db),
	}
}

// CallRecord returns the call record repository
func (m *GormRepositoryManager) CallRecord() *CallRecordRepository {
	return m.callRecordRepo
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

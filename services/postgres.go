package services

import (
	stdctx "context"
	"fmt"
	"os"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/rkr-ui/BOQMate/model"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresService is the secure connection pool: a bounded set of handles to
// the persistent store behind an exclusively parameterized API. No call path
// concatenates untrusted data into a query string; every mutating operation
// is mirrored into an append-only audit record.
//
// Pool policy: Acquire waits up to AcquireTimeout for a free handle, then
// fails with PoolExhausted rather than blocking the worker indefinitely.
type PostgresService struct {
	context.DefaultService

	db       *gorm.DB
	database string

	MaxConnections int
	AcquireTimeout time.Duration

	monitorSvc *SecurityEventMonitorService

	sem chan struct{}
}

const (
	POSTGRES_SVC = "postgres_svc"

	defaultMaxConnections = 5
	defaultAcquireTimeout = 5 * time.Second
)

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds *PostgresService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DATABASE_URL")
	if ds.database == "" {
		host := envOr("DB_HOST", "localhost")
		port := envOr("DB_PORT", "5432")
		user := envOr("DB_USER", "postgres")
		password := envOr("DB_PASSWORD", "postgres")
		dbname := envOr("DB_NAME", "boqmate")
		sslmode := envOr("DB_SSLMODE", "disable")

		ds.database = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			host, user, password, dbname, port, sslmode)
	}

	ds.MaxConnections = envInt("DB_CONNECTION_LIMIT", defaultMaxConnections)
	ds.AcquireTimeout = envSeconds("DB_TIMEOUT", defaultAcquireTimeout)
	ds.sem = make(chan struct{}, ds.MaxConnections)

	return ds.DefaultService.Configure(ctx)
}

func (ds *PostgresService) Start() (err error) {
	ds.monitorSvc = ds.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)

	maxRetries := 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ds.db, err = gorm.Open(postgres.Open(ds.database), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})
		if err == nil {
			sqlDB, dbErr := ds.db.DB()
			if dbErr == nil {
				sqlDB.SetMaxOpenConns(ds.MaxConnections)
				sqlDB.SetMaxIdleConns(ds.MaxConnections)
				sqlDB.SetConnMaxLifetime(time.Hour)
				if pingErr := sqlDB.Ping(); pingErr == nil {
					log.Info("Connected to database")
					break
				} else {
					err = pingErr
				}
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			return fmt.Errorf("database unreachable after %d attempts: %w", maxRetries, err)
		}

		log.WithError(err).Warnf("Database connection failed, retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	return ds.db.AutoMigrate(
		&model.Credential{},
		&model.SecurityEvent{},
		&model.AuditRecord{},
		&model.FileRecord{},
	)
}

// acquire claims a pool slot, failing with PoolExhausted once the timeout
// elapses. The returned release must be called exactly once; callers defer it
// so the slot is returned on every path.
func (ds *PostgresService) acquire() (func(), error) {
	release, err := ds.acquireQuiet()
	if err != nil && ds.monitorSvc != nil {
		ds.monitorSvc.RecordKind(shared.EventPoolExhausted, "", "", shared.SeverityMedium,
			fmt.Sprintf("no free handle within %v", ds.AcquireTimeout))
	}
	return release, err
}

// acquireQuiet is the slot claim without the monitor notification. The event
// persistence path uses it directly so a starved pool cannot generate an
// endless chain of pool_exhausted events about its own writes.
func (ds *PostgresService) acquireQuiet() (func(), error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), ds.AcquireTimeout)
	defer cancel()

	dbPoolWaiting.Inc()
	defer dbPoolWaiting.Dec()

	select {
	case ds.sem <- struct{}{}:
		return func() { <-ds.sem }, nil
	case <-ctx.Done():
		return nil, shared.NewPoolExhaustedError(ctx.Err())
	}
}

// ==================== CREDENTIALS ====================

func (ds *PostgresService) GetCredential(userID string) (*model.Credential, error) {
	release, err := ds.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var cred model.Credential
	if err := ds.db.Where("user_id = ?", userID).First(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

func (ds *PostgresService) CreateCredential(cred *model.Credential, identity string) error {
	release, err := ds.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := ds.db.Create(cred).Error; err != nil {
		return shared.NewStoreError(err)
	}
	ds.audit(identity, cred.UserID, "credential.create", cred.UserID)
	return nil
}

func (ds *PostgresService) UpdateCredential(cred *model.Credential, identity string) error {
	release, err := ds.acquire()
	if err != nil {
		return err
	}
	defer release()

	cred.UpdatedAt = time.Now()
	if err := ds.db.Save(cred).Error; err != nil {
		return shared.NewStoreError(err)
	}
	ds.audit(identity, cred.UserID, "credential.update", cred.UserID)
	return nil
}

func (ds *PostgresService) DeleteCredential(userID, identity string) error {
	release, err := ds.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := ds.db.Where("user_id = ?", userID).Delete(&model.Credential{}).Error; err != nil {
		return shared.NewStoreError(err)
	}
	ds.audit(identity, userID, "credential.delete", userID)
	return nil
}

func (ds *PostgresService) TouchLastLogin(userID string, at time.Time, identity string) error {
	release, err := ds.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := ds.db.Model(&model.Credential{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"last_login_at": at, "updated_at": at}).Error; err != nil {
		return shared.NewStoreError(err)
	}
	ds.audit(identity, userID, "credential.login", userID)
	return nil
}

// ==================== SECURITY EVENTS ====================

func (ds *PostgresService) SaveSecurityEvent(event *model.SecurityEvent) error {
	release, err := ds.acquireQuiet()
	if err != nil {
		return err
	}
	defer release()

	return ds.db.Create(event).Error
}

func (ds *PostgresService) GetSecurityEvents(since time.Time, limit int) ([]model.SecurityEvent, error) {
	release, err := ds.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var events []model.SecurityEvent
	if err := ds.db.Where("timestamp > ?", since).
		Order("timestamp DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, shared.NewStoreError(err)
	}
	return events, nil
}

// ==================== FILE RECORDS ====================

func (ds *PostgresService) CreateFileRecord(record *model.FileRecord, identity string) error {
	release, err := ds.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := ds.db.Create(record).Error; err != nil {
		return shared.NewStoreError(err)
	}
	ds.audit(identity, record.UserID, "file.create", record.ID)
	return nil
}

func (ds *PostgresService) GetFileByHash(userID, hash string) (*model.FileRecord, error) {
	release, err := ds.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var record model.FileRecord
	if err := ds.db.Where("user_id = ? AND file_hash = ?", userID, hash).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ==================== AUDIT ====================

// audit runs inside an already-acquired pool scope; failures are logged, not
// propagated, so a broken audit sink cannot take down the request path.
func (ds *PostgresService) audit(identity, userID, operation, affectedKey string) {
	id, _ := uuid.NewV7()
	record := &model.AuditRecord{
		ID:          id.String(),
		Timestamp:   time.Now(),
		Identity:    identity,
		UserID:      userID,
		Operation:   operation,
		AffectedKey: affectedKey,
	}
	if err := ds.db.Create(record).Error; err != nil {
		log.WithError(err).WithField("operation", operation).Error("Failed to write audit record")
	}
}

func (ds *PostgresService) GetAuditRecords(since time.Time, limit int) ([]model.AuditRecord, error) {
	release, err := ds.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var records []model.AuditRecord
	if err := ds.db.Where("timestamp > ?", since).
		Order("timestamp DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, shared.NewStoreError(err)
	}
	return records, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

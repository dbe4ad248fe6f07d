package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/internal/cache"
)

// Singleton connection shared by the API server and the workers.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			// Reads fall through to the database when the cache is down.
			log.Printf("cache unavailable, serving reads from the database: %v", errCache)
			ca = nil
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createQueueItemTable(db)
	if err != nil {
		return nil, err
	}
	err = createReleaseTimerTable(db)
	if err != nil {
		return nil, err
	}
	err = createAuditLogTable(db)
	if err != nil {
		return nil, err
	}
	err = createLedgerEntryTable(db)
	if err != nil {
		return nil, err
	}
	err = createReconciliationRunTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS payops`)
	if err != nil {
		log.Printf("Error creating payops schema: %v", err)
	}
	return err
}

// createQueueItemTable creates the table backing the manual payment queue.
func createQueueItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payops.queue_items (
			id SERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			job_id TEXT,
			user_id TEXT,
			client_id TEXT,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			item_type TEXT NOT NULL DEFAULT 'payment',
			assigned_to TEXT,
			supersedes TEXT,
			notes TEXT,
			psp_transaction_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			processing_started_at TIMESTAMP,
			processing_completed_at TIMESTAMP,
			estimated_completion_date TIMESTAMP NOT NULL
		)
	`)
	log.Println(err)
	return err
}

// createReleaseTimerTable creates the table backing scheduled escrow releases.
// The partial unique index enforces at most one SCHEDULED timer per job/user
// pair.
func createReleaseTimerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payops.release_timers (
			id SERIAL PRIMARY KEY,
			timer_id TEXT NOT NULL UNIQUE,
			job_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			release_date TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			released_at TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS release_timers_scheduled_key
			ON payops.release_timers (job_id, user_id)
			WHERE status = 'SCHEDULED'
	`)
	log.Println(err)
	return err
}

// createAuditLogTable creates the append-only audit trail.
func createAuditLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payops.audit_log (
			id SERIAL PRIMARY KEY,
			audit_id TEXT NOT NULL UNIQUE,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			status_before TEXT,
			status_after TEXT,
			success BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			payload JSONB
		)
	`)
	log.Println(err)
	return err
}

// createLedgerEntryTable creates the platform-side ledger mirror used by
// reconciliation.
func createLedgerEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payops.ledger_entries (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			reference TEXT,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			job_id TEXT,
			user_id TEXT,
			posted_at TIMESTAMP NOT NULL DEFAULT NOW(),
			source TEXT NOT NULL DEFAULT 'platform'
		)
	`)
	log.Println(err)
	return err
}

// createReconciliationRunTable creates the reconciliation run history.
func createReconciliationRunTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payops.reconciliation_runs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			currency TEXT NOT NULL,
			discrepancy NUMERIC NOT NULL DEFAULT 0,
			items_created INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP
		)
	`)
	log.Println(err)
	return err
}

package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/internal/cache"
)

// Package-level singleton so every caller shares one connection pool.
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
		instance = &Datasource{Conn: con, Cache: nil}
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
	err = createContactTable(db)
	if err != nil {
		return nil, err
	}
	err = createListTables(db)
	if err != nil {
		return nil, err
	}
	err = createJobTable(db)
	if err != nil {
		return nil, err
	}
	err = createMessageTable(db)
	if err != nil {
		return nil, err
	}
	err = createTrackingTable(db)
	if err != nil {
		return nil, err
	}
	err = createEmailEventTable(db)
	if err != nil {
		return nil, err
	}
	err = createTypeUnsubscribeTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createJobTable creates the scheduled-jobs queue table. dedupe_key carries a
// partial unique index so null keys never collide with each other.
func createJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			params JSONB,
			status TEXT NOT NULL,
			status_msg TEXT,
			execution_meta JSONB,
			run_at TIMESTAMP NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			dedupe_key TEXT,
			flow_key TEXT,
			flow_instance_id TEXT,
			step_order INT NOT NULL DEFAULT 0,
			locked_at TIMESTAMP,
			locked_by TEXT,
			cancelled_at TIMESTAMP,
			cancel_reason TEXT,
			src_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedupe_key_idx ON jobs (dedupe_key) WHERE dedupe_key IS NOT NULL;
		CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (kind, status, run_at);
	`)
	log.Println(err)
	return err
}

// createMessageTable creates the outbox table.
func createMessageTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id SERIAL PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			job_id TEXT REFERENCES jobs(job_id),
			contact_id TEXT NOT NULL REFERENCES contacts(contact_id),
			subject TEXT,
			from_email TEXT,
			reply_to TEXT,
			to_email TEXT NOT NULL,
			body_html TEXT,
			body_plain TEXT,
			headers JSONB,
			sender_message_id TEXT,
			kind TEXT NOT NULL,
			send_status TEXT NOT NULL,
			sent_at TIMESTAMP,
			failed_at TIMESTAMP,
			fail_reason TEXT,
			template_key TEXT,
			template_version TEXT,
			render_checksum_html TEXT,
			render_checksum_text TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS messages_sender_message_id_idx ON messages (sender_message_id);
	`)
	log.Println(err)
	return err
}

func createContactTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id SERIAL PRIMARY KEY,
			contact_id TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			email_norm TEXT NOT NULL UNIQUE,
			first_name TEXT,
			last_name TEXT,
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			suppressed_until TIMESTAMP,
			suppression_reason TEXT,
			bounce_count INT NOT NULL DEFAULT 0,
			bounce_type TEXT,
			bounce_subtype TEXT,
			bounce_diagnostic_code TEXT,
			last_bounce_at TIMESTAMP,
			complaint_count INT NOT NULL DEFAULT 0,
			complaint_type TEXT,
			complaint_subtype TEXT,
			last_complaint_at TIMESTAMP,
			feedback_id TEXT,
			last_email_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createListTables creates the lists and list_members tables. The member
// uniqueness constraint backs the upsert-with-merge semantics.
func createListTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lists (
			id SERIAL PRIMARY KEY,
			list_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			sub_type TEXT,
			scope_type TEXT,
			scope_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS list_members (
			id SERIAL PRIMARY KEY,
			member_id TEXT NOT NULL UNIQUE,
			list_id TEXT NOT NULL REFERENCES lists(list_id),
			contact_id TEXT NOT NULL REFERENCES contacts(contact_id),
			scope_type TEXT NOT NULL DEFAULT '',
			scope_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			params JSONB,
			data JSONB,
			subscribed_at TIMESTAMP,
			unsubscribed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (list_id, contact_id, scope_type, scope_id)
		)
	`)
	log.Println(err)
	return err
}

func createTrackingTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tracking (
			id SERIAL PRIMARY KEY,
			tracking_id TEXT NOT NULL UNIQUE,
			message_id TEXT NOT NULL REFERENCES messages(message_id),
			contact_id TEXT REFERENCES contacts(contact_id),
			type TEXT NOT NULL,
			hash TEXT NOT NULL,
			target_url TEXT,
			hit_count INT NOT NULL DEFAULT 0,
			first_hit_at TIMESTAMP,
			last_hit_at TIMESTAMP,
			last_hit_ip TEXT,
			last_hit_ua TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

func createEmailEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS email_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			message_id TEXT,
			contact_id TEXT,
			type TEXT NOT NULL,
			payload JSONB,
			occurred_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS email_events_message_idx ON email_events (message_id)
	`)
	log.Println(err)
	return err
}

func createTypeUnsubscribeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS type_unsubscribes (
			id SERIAL PRIMARY KEY,
			unsubscribe_id TEXT NOT NULL UNIQUE,
			contact_id TEXT NOT NULL REFERENCES contacts(contact_id),
			message_type TEXT NOT NULL,
			scope_type TEXT,
			scope_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (contact_id, message_type, scope_type, scope_id)
		)
	`)
	log.Println(err)
	return err
}

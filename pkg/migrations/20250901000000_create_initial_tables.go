package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE accounts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE account_targets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				target_name TEXT NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				credentials TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_account_targets_account_id_target_name ON account_targets (account_id, target_name)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE notebooks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				device_id TEXT NOT NULL,
				title TEXT NOT NULL,
				path TEXT NOT NULL,
				page_count INTEGER NOT NULL DEFAULT 0,
				last_opened_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_notebooks_account_id_device_id ON notebooks (account_id, device_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE pages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				notebook_id INTEGER REFERENCES notebooks (id) NOT NULL,
				page_number INTEGER NOT NULL,
				ocr_text TEXT NOT NULL DEFAULT '',
				ocr_status TEXT NOT NULL,
				ocr_completed_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_pages_notebook_id_page_number ON pages (notebook_id, page_number)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_pages_ocr_status ON pages (ocr_status, created_at DESC)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE todos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				notebook_id INTEGER REFERENCES notebooks (id) NOT NULL,
				page_number INTEGER NOT NULL,
				text TEXT NOT NULL,
				checked BOOLEAN NOT NULL DEFAULT FALSE
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_todos_notebook_id ON todos (notebook_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE highlights (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				notebook_id INTEGER REFERENCES notebooks (id) NOT NULL,
				page_number INTEGER NOT NULL,
				text TEXT NOT NULL,
				color TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_highlights_notebook_id ON highlights (notebook_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE delivery_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				item_type TEXT NOT NULL,
				item_id INTEGER NOT NULL,
				target_name TEXT NOT NULL,
				content_fingerprint TEXT NOT NULL,
				external_id TEXT,
				status TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				delivered_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// The dedup key: one ledger row per item per target per account.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_delivery_records_tuple ON delivery_records (account_id, item_type, item_id, target_name)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_delivery_records_account_target ON delivery_records (account_id, target_name, status)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE sync_tickets (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				item_type TEXT NOT NULL,
				item_id INTEGER NOT NULL,
				target_name TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				attempt_count INTEGER NOT NULL DEFAULT 0,
				enqueued_at TIMESTAMPTZ NOT NULL,
				requeue_at TIMESTAMPTZ,
				claimed_at TIMESTAMPTZ,
				claimed_by TEXT,
				last_error TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Coalescing: only one live ticket per tuple. Done and dead tickets
		// fall out of the index so history is kept.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_sync_tickets_live_tuple ON sync_tickets (account_id, item_type, item_id, target_name) WHERE status IN ('queued', 'in_flight')`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_sync_tickets_claim ON sync_tickets (status, priority DESC, enqueued_at ASC)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE quota_usage (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				account_id INTEGER REFERENCES accounts (id) NOT NULL,
				quota_type TEXT NOT NULL,
				quota_limit INTEGER NOT NULL,
				used INTEGER NOT NULL DEFAULT 0,
				period_start TIMESTAMPTZ NOT NULL,
				reset_at TIMESTAMPTZ NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_quota_usage_account_id_quota_type ON quota_usage (account_id, quota_type)`)
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{
			"quota_usage",
			"sync_tickets",
			"delivery_records",
			"highlights",
			"todos",
			"pages",
			"notebooks",
			"account_targets",
			"accounts",
		} {
			_, err := db.Exec("DROP TABLE " + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}

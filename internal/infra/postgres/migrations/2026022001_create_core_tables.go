package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

const createCoreTablesSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	display_pref TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS quizzes (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	quiz_id TEXT NOT NULL,
	host_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'waiting',
	current_question INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_members (
	session_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	PRIMARY KEY (session_id, account_id)
);

CREATE TABLE IF NOT EXISTS scores (
	session_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	score INT NOT NULL DEFAULT 0,
	correct INT NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, account_id)
);

CREATE TABLE IF NOT EXISTS bonus_states (
	session_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	consumed INT NOT NULL DEFAULT 0,
	armed BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (session_id, account_id)
);

CREATE TABLE IF NOT EXISTS action_log (
	id UUID PRIMARY KEY,
	account_id TEXT NOT NULL,
	action TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const dropCoreTablesSQL = `
DROP TABLE IF EXISTS action_log;
DROP TABLE IF EXISTS bonus_states;
DROP TABLE IF EXISTS scores;
DROP TABLE IF EXISTS session_members;
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS quizzes;
DROP TABLE IF EXISTS accounts;
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createCoreTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, dropCoreTablesSQL)
			return err
		},
	)
}

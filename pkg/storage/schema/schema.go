// Package schema is the ordered migration set for the SQL backends.
//
// The first two versions create the legacy bespoke layout, where a session
// is keyed by its id alone and the application name lives inside the state
// document, and where events are opaque JSON blobs. Version 0003 rebuilds
// both tables through staging copies into the composite-key layout the
// runtime expects. Databases created by older releases start at whatever
// version they recorded; fresh databases walk the whole chain.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"

	"github.com/papercomputeco/spool/pkg/storage/migrate"
)

// DefaultAppName is given to legacy sessions whose state carries no
// application name.
const DefaultAppName = "default"

type types struct {
	json    string
	blob    string
	serial  string
	boolean string
}

func typesFor(dialectName string) types {
	if dialectName == dialect.Postgres {
		return types{json: "JSONB", blob: "BYTEA", serial: "BIGSERIAL PRIMARY KEY", boolean: "BOOLEAN"}
	}
	return types{json: "TEXT", blob: "BLOB", serial: "INTEGER PRIMARY KEY AUTOINCREMENT", boolean: "BOOLEAN"}
}

// Migrations returns the migration set for the given ent dialect.
func Migrations(dialectName string) []migrate.Migration {
	t := typesFor(dialectName)
	return []migrate.Migration{
		{
			Version:     "0001",
			Description: "bespoke sessions table",
			Statements: []string{
				`CREATE TABLE sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					state ` + t.json + ` NOT NULL,
					created_at BIGINT NOT NULL,
					updated_at BIGINT NOT NULL
				)`,
				`CREATE INDEX idx_sessions_user ON sessions (user_id)`,
			},
		},
		{
			Version:     "0002",
			Description: "bespoke events table",
			Statements: []string{
				`CREATE TABLE events (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
					event_type TEXT NOT NULL,
					event_data ` + t.json + ` NOT NULL,
					timestamp BIGINT NOT NULL
				)`,
				`CREATE INDEX idx_events_session ON events (session_id)`,
			},
		},
		{
			Version:     "0003",
			Description: "composite session key and explicit event columns",
			Apply: func(ctx context.Context, tx *sql.Tx) error {
				return rebuildSessionKey(ctx, tx, dialectName, t)
			},
		},
		{
			Version:     "0004",
			Description: "hybrid artifact metadata",
			Statements: []string{
				`CREATE TABLE artifacts (
					app_name TEXT NOT NULL,
					user_id TEXT NOT NULL,
					session_id TEXT NOT NULL,
					name TEXT NOT NULL,
					version INTEGER NOT NULL,
					location TEXT NOT NULL,
					data ` + t.blob + `,
					object_key TEXT,
					codec TEXT NOT NULL DEFAULT '',
					size BIGINT NOT NULL,
					digest TEXT NOT NULL,
					created_at BIGINT NOT NULL,
					CONSTRAINT pk_artifacts PRIMARY KEY (app_name, user_id, session_id, name, version)
				)`,
				`CREATE INDEX idx_artifacts_object_key ON artifacts (object_key)`,
			},
		},
		{
			Version:     "0005",
			Description: "memory index",
			Statements: []string{
				`CREATE TABLE memory_entries (
					app_name TEXT NOT NULL,
					user_id TEXT NOT NULL,
					session_id TEXT NOT NULL,
					event_id TEXT NOT NULL,
					classification TEXT NOT NULL,
					summary TEXT NOT NULL,
					keywords TEXT NOT NULL,
					event_timestamp BIGINT NOT NULL,
					event_seq BIGINT NOT NULL,
					indexed_at BIGINT NOT NULL,
					CONSTRAINT pk_memory_entries PRIMARY KEY (app_name, user_id, session_id, event_id)
				)`,
				`CREATE INDEX idx_memory_entries_user ON memory_entries (app_name, user_id)`,
			},
		},
	}
}

// Legacy returns only the bespoke-layout migrations. Tests use it to build
// a database as an older release left it.
func Legacy(dialectName string) []migrate.Migration {
	return Migrations(dialectName)[:2]
}

func sessionsDDL(t types) []string {
	return []string{
		`CREATE TABLE sessions (
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			state ` + t.json + ` NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			CONSTRAINT pk_sessions PRIMARY KEY (app_name, user_id, id)
		)`,
		`CREATE INDEX idx_sessions_created ON sessions (app_name, user_id, created_at)`,
	}
}

func eventsDDL(t types) []string {
	return []string{
		`CREATE TABLE events (
			seq ` + t.serial + `,
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			id TEXT NOT NULL,
			invocation_id TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			content ` + t.blob + `,
			state_delta ` + t.json + `,
			partial ` + t.boolean + ` NOT NULL DEFAULT FALSE,
			turn_complete ` + t.boolean + ` NOT NULL DEFAULT FALSE,
			interrupted ` + t.boolean + ` NOT NULL DEFAULT FALSE,
			error_code TEXT,
			error_message TEXT,
			CONSTRAINT uq_events_session_event UNIQUE (app_name, user_id, session_id, id),
			CONSTRAINT fk_events_session FOREIGN KEY (app_name, user_id, session_id)
				REFERENCES sessions (app_name, user_id, id) ON DELETE CASCADE
		)`,
		`CREATE INDEX idx_events_order ON events (app_name, user_id, session_id, timestamp, seq)`,
	}
}

func rebuildSessionKey(ctx context.Context, tx *sql.Tx, dialectName string, t types) error {
	owners := make(map[string][2]string)
	return migrate.Rebuild(ctx, tx, dialectName, []migrate.TableRebuild{
		{
			Table:   "sessions",
			OrderBy: []string{"created_at", "id"},
			Create:  sessionsDDL(t),
			Columns: []string{"app_name", "user_id", "id", "state", "created_at", "updated_at"},
			Map: func(r migrate.Row) (migrate.Row, error) {
				st, err := r.JSON("state")
				if err != nil {
					return nil, err
				}
				app, _ := st["app_name"].(string)
				if app == "" {
					app = DefaultAppName
				}
				delete(st, "app_name")
				raw, err := encode(st)
				if err != nil {
					return nil, err
				}
				id := r.String("id")
				owners[id] = [2]string{app, r.String("user_id")}
				return migrate.Row{
					"app_name":   app,
					"user_id":    r.String("user_id"),
					"id":         id,
					"state":      raw,
					"created_at": r.Int64("created_at"),
					"updated_at": r.Int64("updated_at"),
				}, nil
			},
		},
		{
			Table:   "events",
			OrderBy: []string{"timestamp", "id"},
			Create:  eventsDDL(t),
			Columns: []string{
				"app_name", "user_id", "session_id", "id", "invocation_id", "author", "timestamp",
				"content", "state_delta", "partial", "turn_complete", "interrupted", "error_code", "error_message",
			},
			Map: func(r migrate.Row) (migrate.Row, error) {
				sid := r.String("session_id")
				owner, ok := owners[sid]
				if !ok {
					return nil, fmt.Errorf("event %s references unknown session %s", r.String("id"), sid)
				}
				data, err := r.JSON("event_data")
				if err != nil {
					return nil, err
				}
				return legacyEvent(owner, sid, r, data)
			},
		},
	})
}

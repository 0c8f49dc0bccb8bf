package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/sqliteutil"
)

var migrations = []sqliteutil.Migration{
	{
		Name: "001_create_sessions",
		UpSQL: `CREATE TABLE IF NOT EXISTS sessions (
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '{}',
			update_time REAL NOT NULL,
			PRIMARY KEY (app_name, user_id, id)
		)`,
	},
	{
		Name: "002_create_events",
		UpSQL: `CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			data TEXT NOT NULL,
			FOREIGN KEY (app_name, user_id, session_id)
				REFERENCES sessions (app_name, user_id, id) ON DELETE CASCADE
		)`,
	},
	{
		Name:  "003_index_events_session",
		UpSQL: `CREATE INDEX IF NOT EXISTS idx_events_session ON events (app_name, user_id, session_id, seq)`,
	},
}

// SQLiteService stores sessions in a SQLite database.
type SQLiteService struct {
	db *sql.DB
}

var _ Service = (*SQLiteService)(nil)

// NewSQLiteService opens (or creates) the database at path and applies the
// schema.
func NewSQLiteService(ctx context.Context, path string) (*SQLiteService, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := sqliteutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating session database: %w", err)
	}
	slog.Debug("Session database ready", "path", path)
	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Close() error {
	return s.db.Close()
}

func (s *SQLiteService) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	state := req.State
	if state == nil {
		state = map[string]any{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}

	now := event.Timestamp(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (app_name, user_id, id, state, update_time) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		req.AppName, req.UserID, id, string(stateJSON), now)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrAlreadyExists
	}

	return &Session{
		ID:             id,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          state,
		LastUpdateTime: now,
	}, nil
}

func (s *SQLiteService) Get(ctx context.Context, key Key) (*Session, error) {
	if key.SessionID == "" {
		return nil, ErrEmptyID
	}

	var stateJSON string
	sess := &Session{ID: key.SessionID, AppName: key.AppName, UserID: key.UserID}
	err := s.db.QueryRowContext(ctx,
		`SELECT state, update_time FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		key.AppName, key.UserID, key.SessionID).Scan(&stateJSON, &sess.LastUpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		return nil, fmt.Errorf("decoding state of session %s: %w", key.SessionID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY seq`,
		key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decoding event of session %s: %w", key.SessionID, err)
		}
		ev.Classify()
		sess.Events = append(sess.Events, &ev)
	}
	return sess, rows.Err()
}

func (s *SQLiteService) List(ctx context.Context, appName, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, update_time FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY update_time`,
		appName, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var stateJSON string
		sess := &Session{AppName: appName, UserID: userID}
		if err := rows.Scan(&sess.ID, &stateJSON, &sess.LastUpdateTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
			return nil, fmt.Errorf("decoding state of session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteService) Delete(ctx context.Context, key Key) error {
	if key.SessionID == "" {
		return ErrEmptyID
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteService) AppendEvent(ctx context.Context, sess *Session, ev *event.Event) error {
	if !applyEvent(sess, ev) {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, update_time = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(stateJSON), sess.LastUpdateTime, sess.AppName, sess.UserID, sess.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, app_name, user_id, session_id, data) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, sess.AppName, sess.UserID, sess.ID, string(data)); err != nil {
		return err
	}
	return tx.Commit()
}

package conversation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Archive mirrors turns to a sqlite file for post-session inspection.
// It is write-only while a session runs: nothing is ever read back into
// a live conversation, so a restart always begins with an empty history.
type Archive struct {
	db *sql.DB
}

// ArchivedTurn is one transcript row.
type ArchivedTurn struct {
	SessionID string
	TurnID    string
	Role      Role
	Content   string
	ToolCalls []ToolCall
	CreatedAt time.Time
}

// OpenArchive opens (creating if needed) the transcript database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS transcript (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		tool_calls TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Transcript archive opened")
	return &Archive{db: db}, nil
}

// Session returns a Recorder that tags rows with the given session id.
func (a *Archive) Session(sessionID string) Recorder {
	return &sessionRecorder{archive: a, sessionID: sessionID}
}

type sessionRecorder struct {
	archive   *Archive
	sessionID string
}

func (r *sessionRecorder) Record(turn Turn) error {
	return r.archive.record(r.sessionID, turn)
}

func (a *Archive) record(sessionID string, turn Turn) error {
	var toolCalls []byte
	if len(turn.ToolCalls) > 0 {
		data, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = data
	}

	_, err := a.db.Exec(
		`INSERT INTO transcript (session_id, turn_id, role, content, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turn.ID, string(turn.Role), turn.Content, toolCalls, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert transcript row: %w", err)
	}
	return nil
}

// Turns reads a session's transcript back, oldest first. For audit after
// the session ends; the live loop never calls this.
func (a *Archive) Turns(sessionID string) ([]ArchivedTurn, error) {
	rows, err := a.db.Query(
		`SELECT turn_id, role, content, tool_calls, created_at
		 FROM transcript WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []ArchivedTurn
	for rows.Next() {
		var (
			turn      ArchivedTurn
			role      string
			toolCalls sql.NullString
		)
		if err := rows.Scan(&turn.TurnID, &role, &turn.Content, &toolCalls, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		turn.SessionID = sessionID
		turn.Role = Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

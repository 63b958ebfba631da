package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single writer keeps sqlite from returning SQLITE_BUSY under WAL
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithField("path", dbPath).Info("Database initialized")
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		language TEXT NOT NULL,
		privacy TEXT NOT NULL,
		max_participants INTEGER NOT NULL,
		host_id TEXT NOT NULL,
		host_username TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_created_at ON rooms(created_at DESC);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (room_id, user_id),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_participants_position ON room_participants(room_id, position);

	CREATE TABLE IF NOT EXISTS live_fields (
		room_id TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, field),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// SaveRoom upserts the room row and appends participants not yet stored.
// Participants are never removed, so positions are stable.
func (d *Database) SaveRoom(ctx context.Context, r *room.Room) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, mode, language, privacy, max_participants, host_id, host_username, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mode = excluded.mode,
			language = excluded.language,
			privacy = excluded.privacy,
			max_participants = excluded.max_participants
	`, r.ID, r.Name, string(r.Mode), string(r.Language), string(r.Privacy),
		r.MaxParticipants, r.HostID, r.HostName, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	for i, p := range r.Participants {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_participants (room_id, user_id, username, avatar, position, joined_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, p.ID, p.Username, p.Avatar, i, p.JoinedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*room.Room, error) {
	var r room.Room
	var mode, language, privacy string
	err := row.Scan(&r.ID, &r.Name, &mode, &language, &privacy,
		&r.MaxParticipants, &r.HostID, &r.HostName, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Mode = room.Mode(mode)
	r.Language = room.Language(language)
	r.Privacy = room.Privacy(privacy)
	return &r, nil
}

func (d *Database) participants(ctx context.Context, roomID string) ([]room.Participant, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, username, avatar, joined_at
		FROM room_participants WHERE room_id = ?
		ORDER BY position ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []room.Participant
	for rows.Next() {
		var p room.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.Avatar, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// LoadRooms returns every stored room with its participants
func (d *Database) LoadRooms(ctx context.Context) ([]room.Room, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, mode, language, privacy, max_participants, host_id, host_username, created_at
		FROM rooms ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}

	var rooms []room.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range rooms {
		participants, err := d.participants(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].Participants = participants
	}
	return rooms, nil
}

// Live field operations

// SaveFields writes a batch of live field values in one transaction
func (d *Database) SaveFields(ctx context.Context, values []room.FieldValue) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO live_fields (room_id, field, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(room_id, field) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, v.RoomID, string(v.Field), v.Value, now)
		if err != nil {
			return fmt.Errorf("save field %s/%s: %w", v.RoomID, v.Field, err)
		}
	}
	return tx.Commit()
}

func (d *Database) LoadFields(ctx context.Context) ([]room.FieldValue, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT room_id, field, value FROM live_fields")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []room.FieldValue
	for rows.Next() {
		var v room.FieldValue
		var field string
		if err := rows.Scan(&v.RoomID, &field, &v.Value); err != nil {
			return nil, err
		}
		v.Field = room.Field(field)
		values = append(values, v)
	}
	return values, rows.Err()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var participantCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_participants").Scan(&participantCount); err != nil {
		return nil, err
	}
	stats["participant_count"] = participantCount

	return stats, nil
}

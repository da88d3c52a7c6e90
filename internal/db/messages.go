package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/util"
)

// MessageRecord is one archived decoded message.
type MessageRecord struct {
	Seq        int64          `json:"seq"`
	Session    string         `json:"session"`
	ID         uint64         `json:"id"`
	Type       string         `json:"type"`
	Method     string         `json:"method"`
	Data       map[string]any `json:"data"`
	FrameSize  int            `json:"frame_size"`
	ReceivedAt time.Time      `json:"received_at"`
}

// FailureRecord is one archived frame that could not be decoded.
type FailureRecord struct {
	Seq        int64     `json:"seq"`
	Session    string    `json:"session"`
	Frame      []byte    `json:"frame"`
	Error      string    `json:"error"`
	ReceivedAt time.Time `json:"received_at"`
}

// MethodCount pairs a method name with its number of archived messages.
type MethodCount struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// ArchiveStats summarizes the archive contents.
type ArchiveStats struct {
	Messages   int64            `json:"messages"`
	Failures   int64            `json:"failures"`
	ByType     map[string]int64 `json:"by_type"`
	TopMethods []MethodCount    `json:"top_methods"`
}

const topMethodLimit = 10

// MessageStore persists decoded messages and decode failures.
type MessageStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewMessageStore opens the archive at dbPath and creates its tables.
func NewMessageStore(dbPath string) (*MessageStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &MessageStore{db: database, logger: util.ComponentLogger("archive")}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate message archive: %w", err)
	}
	return s, nil
}

func (s *MessageStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			msg_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			method TEXT NOT NULL,
			data TEXT NOT NULL,
			frame_size INTEGER NOT NULL DEFAULT 0,
			received_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS decode_failures (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			frame BLOB NOT NULL,
			error TEXT NOT NULL,
			received_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_method ON messages(method);
		CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
		CREATE INDEX IF NOT EXISTS idx_failures_received_at ON decode_failures(received_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.logger.Debug().Msg("archive schema migrated")
	return nil
}

// Close closes the underlying database.
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// Path returns the archive file path.
func (s *MessageStore) Path() string {
	return s.db.Path()
}

// Save archives a decoded message and returns its sequence number.
func (s *MessageStore) Save(ctx context.Context, session string, msg protocol.Message, frameSize int, at time.Time) (int64, error) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message data: %w", err)
	}

	res, err := s.db.Exec(ctx,
		`INSERT INTO messages (session, msg_id, type, method, data, frame_size, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session, int64(msg.ID), msg.Type.String(), msg.Method, string(data), frameSize, at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// SaveFailure archives a rejected frame together with its error text.
func (s *MessageStore) SaveFailure(ctx context.Context, session string, frame []byte, decodeErr error, at time.Time) (int64, error) {
	reason := ""
	if decodeErr != nil {
		reason = decodeErr.Error()
	}
	if frame == nil {
		frame = []byte{}
	}

	res, err := s.db.Exec(ctx,
		`INSERT INTO decode_failures (session, frame, error, received_at) VALUES (?, ?, ?, ?)`,
		session, frame, reason, at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert decode failure: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit messages, newest first.
func (s *MessageStore) Recent(ctx context.Context, limit int) ([]MessageRecord, error) {
	return s.queryMessages(ctx,
		`SELECT seq, session, msg_id, type, method, data, frame_size, received_at
		 FROM messages ORDER BY seq DESC LIMIT ?`, limit)
}

// ByMethod returns up to limit messages for one method, newest first.
func (s *MessageStore) ByMethod(ctx context.Context, method string, limit int) ([]MessageRecord, error) {
	return s.queryMessages(ctx,
		`SELECT seq, session, msg_id, type, method, data, frame_size, received_at
		 FROM messages WHERE method = ? ORDER BY seq DESC LIMIT ?`, method, limit)
}

// Failures returns up to limit decode failures, newest first.
func (s *MessageStore) Failures(ctx context.Context, limit int) ([]FailureRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT seq, session, frame, error, received_at
		 FROM decode_failures ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decode failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var at int64
		if err := rows.Scan(&f.Seq, &f.Session, &f.Frame, &f.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan decode failure: %w", err)
		}
		f.ReceivedAt = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Stats counts archived rows per message type and the busiest methods.
func (s *MessageStore) Stats(ctx context.Context) (ArchiveStats, error) {
	stats := ArchiveStats{ByType: make(map[string]int64)}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM decode_failures`).Scan(&stats.Failures); err != nil {
		return stats, fmt.Errorf("failed to count decode failures: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*) FROM messages GROUP BY type`)
	if err != nil {
		return stats, fmt.Errorf("failed to count messages: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByType[kind] = n
		stats.Messages += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.Query(ctx,
		`SELECT method, COUNT(*) AS n FROM messages GROUP BY method ORDER BY n DESC, method LIMIT ?`,
		topMethodLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to rank methods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mc MethodCount
		if err := rows.Scan(&mc.Method, &mc.Count); err != nil {
			return stats, err
		}
		stats.TopMethods = append(stats.TopMethods, mc)
	}
	return stats, rows.Err()
}

// Purge deletes messages and failures received before the cutoff and
// returns how many rows went.
func (s *MessageStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "decode_failures"} {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE received_at < ?", before.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to purge %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int64("rows", removed).Time("before", before).Msg("archive purged")
	}
	return removed, nil
}

// Subscribe archives every decoded message and failure emitted on the bus.
func (s *MessageStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventMessageDecoded, "archive", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.MessageDecodedPayload)
		if !ok {
			return nil
		}
		_, err := s.Save(ctx, p.Session, p.Message, p.FrameSize, p.ReceivedAt)
		return err
	})
	bus.Subscribe(events.EventDecodeFailed, "archive", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.DecodeFailedPayload)
		if !ok {
			return nil
		}
		_, err := s.SaveFailure(ctx, p.Session, p.Frame, p.Err, p.ReceivedAt)
		return err
	})
}

func (s *MessageStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]MessageRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var r MessageRecord
		var id, at int64
		var data string
		if err := rows.Scan(&r.Seq, &r.Session, &id, &r.Type, &r.Method, &data, &r.FrameSize, &at); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		r.ID = uint64(id)
		r.ReceivedAt = time.UnixMilli(at)
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, fmt.Errorf("message %d has corrupt data: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

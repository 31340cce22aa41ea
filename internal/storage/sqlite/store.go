// Package sqlite persists committed ledger state. The in-memory ledger is
// authoritative during execution; every applied transition is written
// through here in a single database transaction so a restarted node can
// rebuild exactly the committed state.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/relves/hermod/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned for lookups of unknown rows.
var ErrNotFound = errors.New("not found")

// Store is a single-node committed-state database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the state database under basePath.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "hermod.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+ // Balance safety/speed (FULL is slower, OFF risks corruption)
		"&_pragma=wal_autocheckpoint(1000)") // Checkpoint every 1000 pages to prevent WAL accumulation
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path of the backing database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// EventRecord is one committed event with its audit leaf.
type EventRecord struct {
	Seq      uint64
	Event    types.Event
	Body     []byte
	LeafHash []byte
}

// Delta is the full write set of one applied transition (or one sweep).
// Commit applies it atomically.
type Delta struct {
	Height        types.Height
	NextMessageID types.MessageID
	NextGroupID   types.GroupID

	UpsertMessages      []types.DirectMessage
	DeleteMessages      []types.MessageID
	UpsertGroupMessages []types.GroupMessage
	DeleteGroupMessages []types.MessageID
	UpsertGroups        []types.Group

	Events      []EventRecord
	AuditSize   uint64
	AuditHashes [][]byte
}

// Commit writes the delta in one transaction.
func (s *Store) Commit(ctx context.Context, delta Delta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, key := range []struct {
		name  string
		value uint64
	}{
		{"height", uint64(delta.Height)},
		{"next_message_id", uint64(delta.NextMessageID)},
		{"next_group_id", uint64(delta.NextGroupID)},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key.name, key.value); err != nil {
			return fmt.Errorf("write meta %s: %w", key.name, err)
		}
	}

	for _, m := range delta.UpsertMessages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, sender, recipient, locator, created_at, expires_at, read)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET read = excluded.read`,
			uint64(m.ID), string(m.Sender), string(m.Recipient), m.Locator,
			uint64(m.CreatedAt), uint64(m.ExpiresAt), m.Read); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}
	for _, id := range delta.DeleteMessages {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("delete message %d: %w", id, err)
		}
	}

	for _, m := range delta.UpsertGroupMessages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_messages (id, group_id, sender, locator, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			uint64(m.ID), uint64(m.Group), string(m.Sender), m.Locator,
			uint64(m.CreatedAt), uint64(m.ExpiresAt)); err != nil {
			return fmt.Errorf("upsert group message %d: %w", m.ID, err)
		}
	}
	for _, id := range delta.DeleteGroupMessages {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_messages WHERE id = ?`, uint64(id)); err != nil {
			return fmt.Errorf("delete group message %d: %w", id, err)
		}
	}

	for _, g := range delta.UpsertGroups {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_records (id, name, owner) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, owner = excluded.owner`,
			uint64(g.ID), g.Name, string(g.Owner)); err != nil {
			return fmt.Errorf("upsert group %d: %w", g.ID, err)
		}
		// Member sets are small and bounded; rewriting the whole set keeps
		// positions consistent without diffing.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ?`, uint64(g.ID)); err != nil {
			return fmt.Errorf("clear members of group %d: %w", g.ID, err)
		}
		for pos, m := range g.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_members (group_id, member, position) VALUES (?, ?, ?)`,
				uint64(g.ID), string(m), pos); err != nil {
				return fmt.Errorf("insert member of group %d: %w", g.ID, err)
			}
		}
	}

	for _, ev := range delta.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (height, kind, body, leaf_hash) VALUES (?, ?, ?, ?)`,
			uint64(ev.Event.Height), string(ev.Event.Kind), ev.Body, ev.LeafHash); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}

	if len(delta.Events) > 0 {
		hashes, err := json.Marshal(delta.AuditHashes)
		if err != nil {
			return fmt.Errorf("encode audit range: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_range (id, size, hashes) VALUES (0, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET size = excluded.size, hashes = excluded.hashes`,
			delta.AuditSize, hashes); err != nil {
			return fmt.Errorf("write audit range: %w", err)
		}
	}

	return tx.Commit()
}

// Snapshot is the complete committed state needed to rebuild a node.
type Snapshot struct {
	Height        types.Height
	NextMessageID types.MessageID
	NextGroupID   types.GroupID
	Groups        []types.Group
	Messages      []types.DirectMessage
	GroupMessages []types.GroupMessage
	AuditSize     uint64
	AuditHashes   [][]byte
}

// Load reads the full committed state. A fresh database yields a zero
// snapshot with counters at 1.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{NextMessageID: 1, NextGroupID: 1}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var value uint64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case "height":
			snap.Height = types.Height(value)
		case "next_message_id":
			snap.NextMessageID = types.MessageID(value)
		case "next_group_id":
			snap.NextGroupID = types.GroupID(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadGroups(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadAuditRange(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) loadGroups(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner FROM group_records ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g types.Group
		var id uint64
		var owner string
		if err := rows.Scan(&id, &g.Name, &owner); err != nil {
			return err
		}
		g.ID = types.GroupID(id)
		g.Owner = types.AccountRef(owner)
		snap.Groups = append(snap.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range snap.Groups {
		g := &snap.Groups[i]
		memberRows, err := s.db.QueryContext(ctx,
			`SELECT member FROM group_members WHERE group_id = ? ORDER BY position`,
			uint64(g.ID))
		if err != nil {
			return fmt.Errorf("load members of group %d: %w", g.ID, err)
		}
		for memberRows.Next() {
			var m string
			if err := memberRows.Scan(&m); err != nil {
				memberRows.Close()
				return err
			}
			g.Members = append(g.Members, types.AccountRef(m))
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return err
		}
		memberRows.Close()
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, locator, created_at, expires_at, read
		 FROM messages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m types.DirectMessage
		var id, createdAt, expiresAt uint64
		var sender, recipient string
		if err := rows.Scan(&id, &sender, &recipient, &m.Locator, &createdAt, &expiresAt, &m.Read); err != nil {
			return err
		}
		m.ID = types.MessageID(id)
		m.Sender = types.AccountRef(sender)
		m.Recipient = types.AccountRef(recipient)
		m.CreatedAt = types.Height(createdAt)
		m.ExpiresAt = types.Height(expiresAt)
		snap.Messages = append(snap.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	gmRows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, sender, locator, created_at, expires_at
		 FROM group_messages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load group messages: %w", err)
	}
	defer gmRows.Close()
	for gmRows.Next() {
		var m types.GroupMessage
		var id, groupID, createdAt, expiresAt uint64
		var sender string
		if err := gmRows.Scan(&id, &groupID, &sender, &m.Locator, &createdAt, &expiresAt); err != nil {
			return err
		}
		m.ID = types.MessageID(id)
		m.Group = types.GroupID(groupID)
		m.Sender = types.AccountRef(sender)
		m.CreatedAt = types.Height(createdAt)
		m.ExpiresAt = types.Height(expiresAt)
		snap.GroupMessages = append(snap.GroupMessages, m)
	}
	return gmRows.Err()
}

func (s *Store) loadAuditRange(ctx context.Context, snap *Snapshot) error {
	var hashes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT size, hashes FROM audit_range WHERE id = 0`).Scan(&snap.AuditSize, &hashes)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load audit range: %w", err)
	}
	if err := json.Unmarshal(hashes, &snap.AuditHashes); err != nil {
		return fmt.Errorf("decode audit range: %w", err)
	}
	return nil
}

// ListEvents returns committed events with seq > after, oldest first, up to
// limit rows. It serves the event-sink surface for off-ledger indexers.
func (s *Store) ListEvents(ctx context.Context, after uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, height, kind, body, leaf_hash FROM events
		 WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var height uint64
		var kind string
		if err := rows.Scan(&rec.Seq, &height, &kind, &rec.Body, &rec.LeafHash); err != nil {
			return nil, err
		}
		// The body is the canonical encoding committed to the audit log;
		// decode it rather than trusting the index columns.
		if err := cbor.Unmarshal(rec.Body, &rec.Event); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

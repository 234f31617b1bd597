// Package journal records publish attempts in SQLite so an identical
// request is not posted twice by accident.
package journal

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/post"
)

// State is the lifecycle stage of a journaled publish.
type State string

const (
	StatePending   State = "pending"   // accepted, browser work not done
	StateFilled    State = "filled"    // composer filled, awaiting manual confirm
	StatePublished State = "published" // clicked and verified
	StateFailed    State = "failed"
)

// Entry is one publish attempt.
type Entry struct {
	ID        string    `json:"id"`
	Digest    string    `json:"digest"`
	Account   string    `json:"account"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	NoteURL   string    `json:"note_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Journal is the publish journal database.
type Journal struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One writer; modernc serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, path: path, now: time.Now}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publish_journal (
		id TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		account TEXT NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		note_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_digest ON publish_journal(digest, state);
	CREATE INDEX IF NOT EXISTS idx_journal_created ON publish_journal(created_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Digest fingerprints a request for an account. Media is identified by
// file name so the same files staged in another directory still match.
func Digest(account string, r *post.Request) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(account)
	write(r.Title)
	write(r.Body)
	write(strings.Join(r.Tags, "\x1f"))
	for _, p := range r.MediaPaths() {
		write(filepath.Base(filepath.FromSlash(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin records a new pending attempt. A digest already published is
// refused with a Duplicate error unless force is set.
func (j *Journal) Begin(account string, r *post.Request, force bool) (*Entry, error) {
	digest := Digest(account, r)

	j.mu.Lock()
	defer j.mu.Unlock()

	prev, err := j.findPublishedLocked(digest)
	if err != nil {
		return nil, err
	}
	if prev != nil && !force {
		return nil, &fault.Error{
			Kind:    fault.KindDuplicate,
			Step:    "journal",
			Target:  prev.NoteURL,
			Account: account,
			Err:     fmt.Errorf("already published at %s (entry %s)", prev.UpdatedAt.Format(time.RFC3339), prev.ID),
		}
	}

	now := j.now()
	e := &Entry{
		ID:        uuid.NewString(),
		Digest:    digest,
		Account:   account,
		Title:     r.Title,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = j.db.Exec(`INSERT INTO publish_journal (id, digest, account, title, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Digest, e.Account, e.Title, string(e.State), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}
	logging.Journal("entry %s pending (digest %s, force=%v)", e.ID, digest[:12], force)
	return e, nil
}

// Mark moves an entry to state. noteURL and errMsg replace the stored
// values only when non-empty.
func (j *Journal) Mark(id string, state State, noteURL, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.Exec(`UPDATE publish_journal
		SET state = ?,
			note_url = CASE WHEN ? <> '' THEN ? ELSE note_url END,
			error = CASE WHEN ? <> '' THEN ? ELSE error END,
			updated_at = ?
		WHERE id = ?`,
		string(state), noteURL, noteURL, errMsg, errMsg, j.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update journal entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal entry %s not found", id)
	}
	logging.Journal("entry %s -> %s", id, state)
	return nil
}

const entryColumns = `id, digest, account, title, state, note_url, error, created_at, updated_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*Entry, error) {
	var (
		e                Entry
		state            string
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Digest, &e.Account, &e.Title, &state, &e.NoteURL, &e.Error, &created, &updated); err != nil {
		return nil, err
	}
	e.State = State(state)
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}

// Get returns an entry by id, or nil when absent.
func (j *Journal) Get(id string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := scanEntry(j.db.QueryRow(`SELECT `+entryColumns+` FROM publish_journal WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal entry: %w", err)
	}
	return e, nil
}

// FindPublished returns the latest published entry for digest, or nil.
func (j *Journal) FindPublished(digest string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.findPublishedLocked(digest)
}

func (j *Journal) findPublishedLocked(digest string) (*Entry, error) {
	e, err := scanEntry(j.db.QueryRow(`SELECT `+entryColumns+` FROM publish_journal
		WHERE digest = ? AND state = ? ORDER BY updated_at DESC LIMIT 1`, digest, string(StatePublished)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return e, nil
}

// LatestFilled returns the account's most recently filled entry, the one a
// click-publish run completes, or nil when there is none.
func (j *Journal) LatestFilled(account string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, err := scanEntry(j.db.QueryRow(`SELECT `+entryColumns+` FROM publish_journal
		WHERE account = ? AND state = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, account, string(StateFilled)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return e, nil
}

// Recent lists the newest entries first, optionally for one account.
func (j *Journal) Recent(account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT ` + entryColumns + ` FROM publish_journal`
	args := []interface{}{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

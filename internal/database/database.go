package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ssaamm/rss2/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection. Instants are stored as Unix milliseconds.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise return
	// SQLITE_BUSY under concurrent renders.
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feed (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		config TEXT NOT NULL,
		created INTEGER NOT NULL,
		last_accessed INTEGER,
		deleted INTEGER NOT NULL DEFAULT 0
	) WITHOUT ROWID;
	CREATE TABLE IF NOT EXISTS feed_cache (
		feed_id TEXT NOT NULL REFERENCES feed(id),
		value BLOB NOT NULL,
		created INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feed_cache_feed_created ON feed_cache(feed_id, created);
	CREATE TABLE IF NOT EXISTS feed_item (
		id TEXT PRIMARY KEY,
		feed_id TEXT NOT NULL REFERENCES feed(id),
		link TEXT NOT NULL,
		title TEXT,
		author TEXT,
		categories TEXT NOT NULL DEFAULT '[]',
		publish_date INTEGER,
		click_count INTEGER NOT NULL DEFAULT 0,
		score REAL,
		UNIQUE (feed_id, link)
	) WITHOUT ROWID;
	CREATE INDEX IF NOT EXISTS idx_feed_item_publish_date ON feed_item(feed_id, publish_date);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Feed Methods ---

// InsertFeed stores a new feed.
func (db *DB) InsertFeed(ctx context.Context, feed *model.Feed) error {
	cfg, err := json.Marshal(feed.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO feed (id, type, config, created, last_accessed, deleted) VALUES (?, ?, ?, ?, NULL, 0)",
		feed.ID, string(feed.Type()), string(cfg), feed.Created.UnixMilli())
	return err
}

// GetFeed returns a live feed by ID.
func (db *DB) GetFeed(ctx context.Context, feedID string) (*model.Feed, error) {
	var (
		typ, rawConfig string
		created        int64
		lastAccessed   sql.NullInt64
		deleted        bool
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT type, config, created, last_accessed, deleted FROM feed WHERE id = ? AND deleted = 0",
		feedID).Scan(&typ, &rawConfig, &created, &lastAccessed, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrFeedNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg, err := model.DecodeConfig(model.Type(typ), []byte(rawConfig))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedID, err)
	}
	f := &model.Feed{
		ID:      feedID,
		Config:  cfg,
		Created: time.UnixMilli(created).UTC(),
		Deleted: deleted,
	}
	if lastAccessed.Valid {
		t := time.UnixMilli(lastAccessed.Int64).UTC()
		f.LastAccessed = &t
	}
	return f, nil
}

// RecordAccess updates last_accessed for a live feed.
func (db *DB) RecordAccess(ctx context.Context, feedID string, t time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE feed SET last_accessed = ? WHERE id = ? AND deleted = 0", t.UnixMilli(), feedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrFeedNotFound
	}
	return nil
}

// BackfillDigestMetadata fills empty title and description fields of a
// digest feed's config in one transaction.
func (db *DB) BackfillDigestMetadata(ctx context.Context, feedID, title, description string) (model.DigestConfig, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.DigestConfig{}, err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT config FROM feed WHERE id = ? AND type = ? AND deleted = 0",
		feedID, string(model.TypeDigest)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DigestConfig{}, model.ErrFeedNotFound
	}
	if err != nil {
		return model.DigestConfig{}, err
	}
	cfg, changed, err := backfillConfig(raw, title, description)
	if err != nil {
		return model.DigestConfig{}, fmt.Errorf("feed %s: %w", feedID, err)
	}
	if !changed {
		return cfg, nil
	}
	updated, err := json.Marshal(cfg)
	if err != nil {
		return model.DigestConfig{}, fmt.Errorf("encode config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE feed SET config = ? WHERE id = ?", string(updated), feedID); err != nil {
		return model.DigestConfig{}, err
	}
	return cfg, tx.Commit()
}

// backfillConfig decodes a stored digest config and fills its metadata.
func backfillConfig(raw, title, description string) (model.DigestConfig, bool, error) {
	decoded, err := model.DecodeConfig(model.TypeDigest, []byte(raw))
	if err != nil {
		return model.DigestConfig{}, false, err
	}
	cfg, changed := decoded.(model.DigestConfig).WithMetadata(title, description)
	return cfg, changed, nil
}

// DeleteFeed soft-deletes a feed. Its rows are retained.
func (db *DB) DeleteFeed(ctx context.Context, feedID string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE feed SET deleted = 1 WHERE id = ? AND deleted = 0", feedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrFeedNotFound
	}
	return nil
}

// --- Item Methods ---

// UpsertFeedItems inserts items, or updates content fields of rows with the
// same (feed_id, link). click_count is never touched and score is only
// replaced by a non-NULL value.
func (db *DB) UpsertFeedItems(ctx context.Context, items []model.FeedItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_item (id, feed_id, link, title, author, categories, publish_date, click_count, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(feed_id, link) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			categories = excluded.categories,
			publish_date = excluded.publish_date,
			score = COALESCE(excluded.score, feed_item.score)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.NewString()
		}
		cats, err := encodeCategories(it.Categories)
		if err != nil {
			tx.Rollback()
			return err
		}
		var published sql.NullInt64
		if it.PublishDate != nil {
			published = sql.NullInt64{Int64: it.PublishDate.UnixMilli(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, it.FeedID, it.Link, it.Title, it.Author, cats, published, it.Score); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert %s: %w", it.Link, err)
		}
	}
	return tx.Commit()
}

const itemColumns = "id, feed_id, link, title, author, categories, publish_date, click_count, score"

// GetItemsInWindow returns the feed's items published in [start, end).
func (db *DB) GetItemsInWindow(ctx context.Context, feedID string, start, end time.Time) ([]model.FeedItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM feed_item WHERE feed_id = ? AND publish_date >= ? AND publish_date < ? ORDER BY publish_date",
		feedID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetFeedItems returns every indexed item of a feed.
func (db *DB) GetFeedItems(ctx context.Context, feedID string) ([]model.FeedItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM feed_item WHERE feed_id = ? ORDER BY publish_date", feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// RecordClick increments click_count and returns the item's link.
func (db *DB) RecordClick(ctx context.Context, feedID, itemID string) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE feed_item SET click_count = click_count + 1 WHERE feed_id = ? AND id = ?", feedID, itemID)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return "", model.ErrItemNotFound
	}
	var link string
	if err := tx.QueryRowContext(ctx,
		"SELECT link FROM feed_item WHERE feed_id = ? AND id = ?", feedID, itemID).Scan(&link); err != nil {
		tx.Rollback()
		return "", err
	}
	return link, tx.Commit()
}

// --- Cache Methods ---

// GetCachedFeed returns the newest cached render created at or after notBefore.
func (db *DB) GetCachedFeed(ctx context.Context, feedID string, notBefore time.Time) ([]byte, bool, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM feed_cache WHERE feed_id = ? AND created >= ? ORDER BY created DESC LIMIT 1",
		feedID, notBefore.UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// SaveCachedFeed deletes every cache row (of any feed) created before
// expireBefore, then appends the new row.
func (db *DB) SaveCachedFeed(ctx context.Context, feedID string, value []byte, created, expireBefore time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM feed_cache WHERE created < ?", expireBefore.UnixMilli()); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO feed_cache (feed_id, value, created) VALUES (?, ?, ?)",
		feedID, value, created.UnixMilli()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Helper functions ---

func encodeCategories(categories []string) (string, error) {
	if categories == nil {
		categories = []string{}
	}
	b, err := json.Marshal(categories)
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(b), nil
}

func scanItems(rows *sql.Rows) ([]model.FeedItem, error) {
	var items []model.FeedItem
	for rows.Next() {
		var (
			it        model.FeedItem
			title     sql.NullString
			author    sql.NullString
			cats      string
			published sql.NullInt64
			score     sql.NullFloat64
		)
		if err := rows.Scan(&it.ID, &it.FeedID, &it.Link, &title, &author, &cats, &published, &it.ClickCount, &score); err != nil {
			return nil, err
		}
		if title.Valid {
			it.Title = &title.String
		}
		if author.Valid {
			it.Author = &author.String
		}
		if err := json.Unmarshal([]byte(cats), &it.Categories); err != nil {
			return nil, fmt.Errorf("decode categories of %s: %w", it.ID, err)
		}
		if published.Valid {
			t := time.UnixMilli(published.Int64).UTC()
			it.PublishDate = &t
		}
		if score.Valid {
			it.Score = &score.Float64
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

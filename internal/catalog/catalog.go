// Package catalog provides the durable SQLite-backed record of videos, their
// raw transcript segments, clips, and the lexical full-text index over
// indexed chunk bodies. It owns migrations, indexes, and the FTS5 setup the
// way the reference codebase's own db package owns its schema.
package catalog

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Status values a video moves through. Advances monotonically within a
// successful run; a retry may reset it to StatusAdded.
const (
	StatusAdded           = "added"
	StatusTranscribed     = "transcribed"
	StatusIndexed         = "indexed"
	StatusErrorTranscribe = "error_transcribe"
	StatusErrorIndex      = "error_index"
)

// Video is a row of the videos table.
type Video struct {
	VideoID      string
	Title        string
	LocalPath    string
	Status       string
	CreatedAt    string
	ChannelName  sql.NullString
	Duration     sql.NullInt64
	ThumbnailURL sql.NullString
}

// Segment is a row of the segments table: one raw ASR segment with its
// optional per-word timestamp payload (JSON-encoded).
type Segment struct {
	SegmentID string
	VideoID   string
	StartSec  float64
	EndSec    float64
	Text      string
	WordsJSON string // JSON array of {text,start,end}; "" if unavailable
}

// Clip is a row of the clips table.
type Clip struct {
	ClipID    string
	VideoID   string
	StartSec  float64
	EndSec    float64
	Path      string
	CreatedAt string
}

// FTSHit is one row returned from a lexical search, ordered by BM25 rank
// (more negative is better, matching SQLite FTS5's convention).
type FTSHit struct {
	ChunkID string
	VideoID string
	Text    string
	Rank    float64
}

// Open opens the catalog database at path, applies pragmas, creates tables,
// runs light migrations, and (re)creates indexes and the FTS5 table.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}

	// WAL allows concurrent readers with one writer; one connection per
	// request/job still serializes through database/sql's pool.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createIndexes(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createFTS(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB page cache
		"PRAGMA busy_timeout=5000", // 5s wait on lock contention
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			video_id      TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			local_path    TEXT,
			status        TEXT NOT NULL DEFAULT 'added',
			created_at    TEXT DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			segment_id TEXT PRIMARY KEY,
			video_id   TEXT NOT NULL,
			start_sec  REAL NOT NULL,
			end_sec    REAL NOT NULL,
			text       TEXT NOT NULL,
			words_json TEXT,
			FOREIGN KEY (video_id) REFERENCES videos(video_id)
		)`,
		`CREATE TABLE IF NOT EXISTS clips (
			clip_id    TEXT PRIMARY KEY,
			video_id   TEXT NOT NULL,
			start_sec  REAL NOT NULL,
			end_sec    REAL NOT NULL,
			path       TEXT NOT NULL,
			created_at TEXT DEFAULT (datetime('now')),
			FOREIGN KEY (video_id) REFERENCES videos(video_id)
		)`,
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin create tables: %w", err)
	}
	for _, ddl := range stmts {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("create table: %w", err)
		}
	}
	return tx.Commit()
}

// migrate adds columns that later revisions of this schema introduced, and
// resets videos stuck mid-pipeline from a prior crash back to 'added' so the
// scheduler will pick them up again.
func migrate(db *sql.DB) error {
	migrations := []struct {
		table, column, ddl string
	}{
		{"videos", "channel_name", "ALTER TABLE videos ADD COLUMN channel_name TEXT"},
		{"videos", "duration", "ALTER TABLE videos ADD COLUMN duration INTEGER"},
		{"videos", "thumbnail_url", "ALTER TABLE videos ADD COLUMN thumbnail_url TEXT"},
	}
	for _, m := range migrations {
		if !columnExists(db, m.table, m.column) {
			if _, err := db.Exec(m.ddl); err != nil {
				return fmt.Errorf("migration %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	if _, err := db.Exec(`UPDATE videos SET status=? WHERE status='processing'`, StatusAdded); err != nil {
		return fmt.Errorf("reset stuck videos: %w", err)
	}
	return nil
}

var catalogTables = map[string]bool{
	"videos": true, "segments": true, "clips": true,
}

// columnExists checks if a column exists in a table. table is validated
// against a whitelist before interpolation since PRAGMA table_info doesn't
// accept bound parameters.
func columnExists(db *sql.DB, table, column string) bool {
	if !catalogTables[table] {
		return false
	}
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_segments_video_id ON segments(video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_start_sec ON segments(start_sec)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_video_id ON clips(video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_created_at ON clips(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_created_at ON videos(created_at DESC)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// createFTS creates the segments_fts virtual table if missing. If an older
// contentless incarnation is found (one that stores no text, only an index),
// it is dropped and recreated — a contentless table would silently return
// empty text/video_id on every match.
func createFTS(db *sql.DB) error {
	row := db.QueryRow(`SELECT chunk_id, text FROM segments_fts LIMIT 1`)
	var chunkID, text sql.NullString
	scanErr := row.Scan(&chunkID, &text)
	if scanErr == nil && !chunkID.Valid && !text.Valid {
		if _, err := db.Exec(`DROP TABLE IF EXISTS segments_fts`); err != nil {
			return fmt.Errorf("drop contentless fts table: %w", err)
		}
	}

	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS segments_fts USING fts5(
		chunk_id UNINDEXED,
		video_id UNINDEXED,
		text,
		tokenize='unicode61'
	)`)
	if err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}
	return nil
}

// --- Videos ---

func UpsertVideo(db *sql.DB, v Video) error {
	_, err := db.Exec(`INSERT INTO videos (video_id, title, local_path, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET title=excluded.title, local_path=excluded.local_path`,
		v.VideoID, v.Title, v.LocalPath, v.Status)
	if err != nil {
		return fmt.Errorf("upsert video %s: %w", v.VideoID, err)
	}
	return nil
}

func SetVideoStatus(db *sql.DB, videoID, status string) error {
	_, err := db.Exec(`UPDATE videos SET status=? WHERE video_id=?`, status, videoID)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", videoID, err)
	}
	return nil
}

// SetVideoMetadata records a scanned video's probed duration (seconds) and
// generated thumbnail path, populated at scan time since this engine has no
// separate download stage to populate them the way the original does.
func SetVideoMetadata(db *sql.DB, videoID string, durationSec int64, thumbnailURL string) error {
	_, err := db.Exec(`UPDATE videos SET duration=?, thumbnail_url=? WHERE video_id=?`,
		durationSec, thumbnailURL, videoID)
	if err != nil {
		return fmt.Errorf("set metadata for %s: %w", videoID, err)
	}
	return nil
}

func GetVideo(db *sql.DB, videoID string) (Video, bool, error) {
	var v Video
	row := db.QueryRow(`SELECT video_id, title, local_path, status, created_at, channel_name, duration, thumbnail_url
		FROM videos WHERE video_id=?`, videoID)
	err := row.Scan(&v.VideoID, &v.Title, &v.LocalPath, &v.Status, &v.CreatedAt, &v.ChannelName, &v.Duration, &v.ThumbnailURL)
	if err == sql.ErrNoRows {
		return Video{}, false, nil
	}
	if err != nil {
		return Video{}, false, fmt.Errorf("get video %s: %w", videoID, err)
	}
	return v, true, nil
}

func ListVideos(db *sql.DB) ([]Video, error) {
	rows, err := db.Query(`SELECT video_id, title, local_path, status, created_at, channel_name, duration, thumbnail_url
		FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.VideoID, &v.Title, &v.LocalPath, &v.Status, &v.CreatedAt, &v.ChannelName, &v.Duration, &v.ThumbnailURL); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVideo removes a video and every row it owns: segments, clips, and
// its FTS entries. The vector store side of the cascade is the caller's
// responsibility (see indexer.DeleteVideo), since it lives in a separate store.
func DeleteVideo(db *sql.DB, videoID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete video %s: %w", videoID, err)
	}
	stmts := []string{
		`DELETE FROM segments_fts WHERE video_id=?`,
		`DELETE FROM segments WHERE video_id=?`,
		`DELETE FROM clips WHERE video_id=?`,
		`DELETE FROM videos WHERE video_id=?`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s, videoID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete video %s: %w", videoID, err)
		}
	}
	return tx.Commit()
}

// --- Segments ---

// InsertSegments inserts segs for videoID in a single transaction. It does
// not delete or check for existing segments; the Transcriber guards against
// clobbering a prior transcription by checking SegmentCount first.
func InsertSegments(db *sql.DB, videoID string, segs []Segment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert segments: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO segments (segment_id, video_id, start_sec, end_sec, text, words_json)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert segments: %w", err)
	}
	defer stmt.Close()

	for _, s := range segs {
		if _, err := stmt.Exec(s.SegmentID, videoID, s.StartSec, s.EndSec, s.Text, s.WordsJSON); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert segment %s: %w", s.SegmentID, err)
		}
	}
	return tx.Commit()
}

// SegmentCount returns how many segments already exist for videoID, used by
// the Transcriber to refuse overwriting a prior transcription.
func SegmentCount(db *sql.DB, videoID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM segments WHERE video_id=?`, videoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count segments for %s: %w", videoID, err)
	}
	return n, nil
}

// ListSegmentsByVideo returns a video's raw segments ordered by start time,
// the order the chunker requires.
func ListSegmentsByVideo(db *sql.DB, videoID string) ([]Segment, error) {
	rows, err := db.Query(`SELECT segment_id, video_id, start_sec, end_sec, text, COALESCE(words_json,'')
		FROM segments WHERE video_id=? ORDER BY start_sec`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list segments for %s: %w", videoID, err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.SegmentID, &s.VideoID, &s.StartSec, &s.EndSec, &s.Text, &s.WordsJSON); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Clips ---

func InsertClip(db *sql.DB, c Clip) error {
	_, err := db.Exec(`INSERT INTO clips (clip_id, video_id, start_sec, end_sec, path) VALUES (?, ?, ?, ?, ?)`,
		c.ClipID, c.VideoID, c.StartSec, c.EndSec, c.Path)
	if err != nil {
		return fmt.Errorf("insert clip %s: %w", c.ClipID, err)
	}
	return nil
}

func ListClipsByVideo(db *sql.DB, videoID string) ([]Clip, error) {
	rows, err := db.Query(`SELECT clip_id, video_id, start_sec, end_sec, path, created_at
		FROM clips WHERE video_id=? ORDER BY created_at DESC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list clips for %s: %w", videoID, err)
	}
	defer rows.Close()

	var out []Clip
	for rows.Next() {
		var c Clip
		if err := rows.Scan(&c.ClipID, &c.VideoID, &c.StartSec, &c.EndSec, &c.Path, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Full-text index over chunk bodies ---

// CleanFTSByVideo deletes every FTS row for videoID, the first half of the
// indexer's destructive per-video replace.
func CleanFTSByVideo(tx *sql.Tx, videoID string) error {
	if _, err := tx.Exec(`DELETE FROM segments_fts WHERE video_id=?`, videoID); err != nil {
		return fmt.Errorf("clean fts for %s: %w", videoID, err)
	}
	return nil
}

// UpsertFTS inserts or replaces one chunk's FTS row. DELETE-then-INSERT
// because FTS5 virtual tables don't support ON CONFLICT upserts.
func UpsertFTS(tx *sql.Tx, chunkID, videoID, text string) error {
	if _, err := tx.Exec(`DELETE FROM segments_fts WHERE chunk_id=?`, chunkID); err != nil {
		return fmt.Errorf("clean fts row %s: %w", chunkID, err)
	}
	if _, err := tx.Exec(`INSERT INTO segments_fts (chunk_id, video_id, text) VALUES (?, ?, ?)`,
		chunkID, videoID, text); err != nil {
		return fmt.Errorf("insert fts row %s: %w", chunkID, err)
	}
	return nil
}

// ftsPunctuation matches everything FTS5's MATCH operator would otherwise
// read as query syntax (column filters, NOT, phrase quoting, prefix stars)
// rather than literal text, mirroring the reference search step's
// re.sub(r'[^\w\s]', ' ', query).
var ftsPunctuation = regexp.MustCompile(`[^\w\s]`)

// sanitizeFTSQuery strips punctuation from a raw user query so it can be
// passed to MATCH as plain terms instead of being parsed as FTS5 syntax.
func sanitizeFTSQuery(query string) string {
	cleaned := ftsPunctuation.ReplaceAllString(query, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// SearchFTS runs a BM25 query over the chunk text index. Results are ordered
// ascending by rank (SQLite FTS5's bm25() is more negative for better
// matches), matching the convention the reference FTS query follows.
func SearchFTS(db *sql.DB, query string, topK int) ([]FTSHit, error) {
	query = sanitizeFTSQuery(query)
	if query == "" {
		return nil, nil
	}
	rows, err := db.Query(`SELECT chunk_id, video_id, text, bm25(segments_fts) AS rank
		FROM segments_fts WHERE segments_fts MATCH ? ORDER BY rank LIMIT ?`, query, topK)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.ChunkID, &h.VideoID, &h.Text, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		if h.ChunkID == "" || h.Text == "" {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Package frontier persists per-URL and per-query memory across runs: fetch
// outcomes, cooldowns, dead path patterns and per-URL field yield. It keeps
// the scheduler from re-exploring locations already known to be dead or
// cooling down.
package frontier

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

const max403CooldownSeconds = 24 * 3600

// Config carries the frontier policy knobs.
type Config struct {
	QueryCooldownSeconds         int
	Cooldown403BaseSeconds       int
	PathPenaltyNotfoundThreshold int
}

// Store is the durable frontier memory. One store per product run; the
// backing database persists across runs.
type Store struct {
	db  *sql.DB
	cfg Config
	mu  sync.Mutex
	now func() time.Time
}

// Row is the persisted state for one URL.
type Row struct {
	URL            string     `json:"url"`
	LastStatus     int        `json:"last_status"`
	FetchCount     int        `json:"fetch_count"`
	Bytes          int64      `json:"bytes"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	CooldownReason string     `json:"cooldown_reason,omitempty"`
	PathDeadScore  int        `json:"path_dead_score"`
	FieldsYielded  []string   `json:"fields_yielded,omitempty"`
}

// SkipVerdict says whether a URL should be skipped and why.
type SkipVerdict struct {
	Skip   bool
	Reason string // cooldown, path_dead_pattern
}

// Open creates or opens the frontier database at path.
func Open(dbPath string, cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create frontier dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open frontier db: %w", err)
	}
	s := &Store{db: db, cfg: cfg, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS frontier_urls (
		url TEXT PRIMARY KEY,
		last_status INTEGER DEFAULT 0,
		fetch_count INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		cooldown_until TIMESTAMP,
		cooldown_reason TEXT DEFAULT '',
		consecutive_403 INTEGER DEFAULT 0,
		last_fetch_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS frontier_paths (
		parent_path TEXT PRIMARY KEY,
		notfound_streak INTEGER DEFAULT 0,
		dead INTEGER DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS frontier_queries (
		product_id TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		last_run_at TIMESTAMP NOT NULL,
		PRIMARY KEY (product_id, query_hash, provider)
	);
	CREATE TABLE IF NOT EXISTS frontier_yields (
		url TEXT NOT NULL,
		field_key TEXT NOT NULL,
		value_hash TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL,
		PRIMARY KEY (url, field_key, value_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_frontier_yields_url ON frontier_yields(url);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the backing database.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// FetchRecord is the input to RecordFetch.
type FetchRecord struct {
	ProductID   string
	URL         string
	Status      int
	ContentType string
	Bytes       int64
	ElapsedMs   int64
	FieldsFound []string
}

// RecordFetch stores a fetch outcome and applies the cooldown and path-dead
// side effects: 404/410 cool down for 7 days, 403 backs off exponentially,
// and repeated 404s at one parent path mark the path dead.
func (s *Store) RecordFetch(rec FetchRecord) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	log := logging.Get(logging.CategoryFrontier)

	norm := NormalizeURL(rec.URL)
	var consecutive403 int
	_ = s.db.QueryRow(`SELECT consecutive_403 FROM frontier_urls WHERE url = ?`, norm).Scan(&consecutive403)

	var cooldownUntil *time.Time
	cooldownReason := ""
	switch {
	case rec.Status == 404 || rec.Status == 410:
		t := now.Add(7 * 24 * time.Hour)
		cooldownUntil, cooldownReason = &t, "404_gone"
		consecutive403 = 0
	case rec.Status == 403:
		consecutive403++
		backoff := s.cfg.Cooldown403BaseSeconds
		for i := 1; i < consecutive403; i++ {
			backoff *= 2
		}
		if backoff > max403CooldownSeconds {
			backoff = max403CooldownSeconds
		}
		t := now.Add(time.Duration(backoff) * time.Second)
		cooldownUntil, cooldownReason = &t, "403_forbidden_backoff"
	default:
		consecutive403 = 0
	}

	_, err := s.db.Exec(`
		INSERT INTO frontier_urls (url, last_status, fetch_count, bytes, cooldown_until, cooldown_reason, consecutive_403, last_fetch_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			last_status = excluded.last_status,
			fetch_count = fetch_count + 1,
			bytes = excluded.bytes,
			consecutive_403 = excluded.consecutive_403,
			last_fetch_at = excluded.last_fetch_at,
			cooldown_until = CASE
				WHEN excluded.cooldown_until IS NULL THEN cooldown_until
				WHEN cooldown_until IS NOT NULL
					AND cooldown_reason = excluded.cooldown_reason
					AND cooldown_until > excluded.cooldown_until THEN cooldown_until
				ELSE excluded.cooldown_until END,
			cooldown_reason = CASE
				WHEN excluded.cooldown_until IS NULL THEN cooldown_reason
				ELSE excluded.cooldown_reason END
	`, norm, rec.Status, rec.Bytes, cooldownUntil, cooldownReason, consecutive403, now)
	if err != nil {
		return Row{}, fmt.Errorf("record fetch: %w", err)
	}

	if err := s.updatePathStreak(norm, rec.Status); err != nil {
		return Row{}, err
	}
	if cooldownReason != "" {
		log.Debug("cooldown applied: " + cooldownReason + " " + norm)
	}
	return s.rowLocked(norm)
}

func (s *Store) updatePathStreak(normURL string, status int) error {
	parent := ParentPath(normURL)
	if parent == "" {
		return nil
	}
	if status == 404 {
		_, err := s.db.Exec(`
			INSERT INTO frontier_paths (parent_path, notfound_streak, dead)
			VALUES (?, 1, CASE WHEN 1 >= ? THEN 1 ELSE 0 END)
			ON CONFLICT(parent_path) DO UPDATE SET
				notfound_streak = notfound_streak + 1,
				dead = CASE WHEN notfound_streak + 1 >= ? THEN 1 ELSE dead END
		`, parent, s.cfg.PathPenaltyNotfoundThreshold, s.cfg.PathPenaltyNotfoundThreshold)
		return err
	}
	_, err := s.db.Exec(`UPDATE frontier_paths SET notfound_streak = 0 WHERE parent_path = ? AND dead = 0`, parent)
	return err
}

// ShouldSkipUrl honors URL cooldowns and dead parent paths.
func (s *Store) ShouldSkipUrl(rawURL string) (SkipVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := NormalizeURL(rawURL)
	now := s.now().UTC()

	var until sql.NullTime
	err := s.db.QueryRow(`SELECT cooldown_until FROM frontier_urls WHERE url = ?`, norm).Scan(&until)
	if err != nil && err != sql.ErrNoRows {
		return SkipVerdict{}, err
	}
	if until.Valid && until.Time.After(now) {
		return SkipVerdict{Skip: true, Reason: "cooldown"}, nil
	}

	var dead int
	err = s.db.QueryRow(`SELECT dead FROM frontier_paths WHERE parent_path = ?`, ParentPath(norm)).Scan(&dead)
	if err != nil && err != sql.ErrNoRows {
		return SkipVerdict{}, err
	}
	if dead == 1 {
		return SkipVerdict{Skip: true, Reason: "path_dead_pattern"}, nil
	}
	return SkipVerdict{}, nil
}

// QueryRecord is the input to RecordQuery.
type QueryRecord struct {
	ProductID string
	Query     string
	Provider  string
	Fields    []string
	Results   int
}

// RecordQuery stores the normalized query hash with its last-run timestamp.
func (s *Store) RecordQuery(rec QueryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := QueryHash(rec.Query)
	_, err := s.db.Exec(`
		INSERT INTO frontier_queries (product_id, query_hash, provider, last_run_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, query_hash, provider) DO UPDATE SET last_run_at = excluded.last_run_at
	`, rec.ProductID, hash, rec.Provider, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("record query: %w", err)
	}
	return hash, nil
}

// ShouldSkipQuery is true iff the same normalized query ran within the
// cooldown window and force is false.
func (s *Store) ShouldSkipQuery(productID, query string, force bool) (bool, error) {
	if force {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT last_run_at FROM frontier_queries
		WHERE product_id = ? AND query_hash = ?
		ORDER BY last_run_at DESC LIMIT 1
	`, productID, QueryHash(query)).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cooldown := time.Duration(s.cfg.QueryCooldownSeconds) * time.Second
	return s.now().UTC().Sub(lastRun) < cooldown, nil
}

// YieldRecord credits a URL for a field it contributed to.
type YieldRecord struct {
	URL        string
	FieldKey   string
	ValueHash  string
	Confidence float64
}

// RecordYield stores a field-yield credit for a URL.
func (s *Store) RecordYield(rec YieldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO frontier_yields (url, field_key, value_hash, confidence, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url, field_key, value_hash) DO UPDATE SET
			confidence = MAX(confidence, excluded.confidence),
			recorded_at = excluded.recorded_at
	`, NormalizeURL(rec.URL), rec.FieldKey, rec.ValueHash, rec.Confidence, s.now().UTC())
	return err
}

// Row returns the frontier row for a URL.
func (s *Store) Row(rawURL string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowLocked(NormalizeURL(rawURL))
}

func (s *Store) rowLocked(norm string) (Row, error) {
	row := Row{URL: norm}
	var until sql.NullTime
	var reason sql.NullString
	err := s.db.QueryRow(`
		SELECT last_status, fetch_count, bytes, cooldown_until, cooldown_reason
		FROM frontier_urls WHERE url = ?
	`, norm).Scan(&row.LastStatus, &row.FetchCount, &row.Bytes, &until, &reason)
	if err == sql.ErrNoRows {
		return row, nil
	}
	if err != nil {
		return Row{}, err
	}
	if until.Valid {
		t := until.Time
		row.CooldownUntil = &t
	}
	row.CooldownReason = reason.String

	var streak int
	_ = s.db.QueryRow(`SELECT notfound_streak FROM frontier_paths WHERE parent_path = ?`, ParentPath(norm)).Scan(&streak)
	row.PathDeadScore = streak

	rows, err := s.db.Query(`SELECT DISTINCT field_key FROM frontier_yields WHERE url = ?`, norm)
	if err != nil {
		return Row{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return Row{}, err
		}
		row.FieldsYielded = append(row.FieldsYielded, f)
	}
	return row, rows.Err()
}

// NormalizeURL canonicalizes a URL for frontier keys: lowercase host, strip
// www., strip fragment, collapse trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// ParentPath returns host plus the parent directory of a URL path, the unit
// at which dead-path patterns accumulate.
func ParentPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host + path.Dir(u.Path)
}

// QueryHash is the stable hash of a normalized query string.
func QueryHash(query string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm))
	return "sha256:" + hex.EncodeToString(sum[:])
}

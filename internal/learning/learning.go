// Package learning implements the durable per-category memory the harvester
// accumulates across runs: a component lexicon, field anchor phrases, URL
// memory and domain field-yield counters. All entries decay by age; decayed
// entries still surface with a lowered weight, expired ones drop out.
package learning

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/CdubVentures/spec-harvester-sub003/internal/logging"
)

// DecayStatus classifies an entry by age.
type DecayStatus string

const (
	DecayActive  DecayStatus = "active"
	DecayDecayed DecayStatus = "decayed"
	DecayExpired DecayStatus = "expired"
)

// Store half-lives and expiries, in days.
const (
	lexiconHalfLifeDays = 90
	lexiconExpiryDays   = 180
	anchorHalfLifeDays  = 60
	urlHalfLifeDays     = 120
)

// Store is the per-category learning memory. Writers serialize through a
// cross-process file lock; readers see whatever snapshot SQLite gives them at
// round start.
type Store struct {
	db       *sql.DB
	category string
	lock     *flock.Flock
	mu       sync.Mutex
	now      func() time.Time
}

// Open creates or opens the learning store for one category.
func Open(stateDir, category string) (*Store, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category_required")
	}
	dir := filepath.Join(stateDir, "learning")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create learning dir: %w", err)
	}
	dbPath := filepath.Join(dir, category+".db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open learning db: %w", err)
	}
	s := &Store{
		db:       db,
		category: category,
		lock:     flock.New(dbPath + ".lock"),
		now:      time.Now,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategoryLearning).Debug("learning store ready: " + dbPath)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS component_lexicon (
		field TEXT NOT NULL,
		normalized_value TEXT NOT NULL,
		canonical_value TEXT NOT NULL,
		seen_count INTEGER DEFAULT 1,
		last_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (field, normalized_value)
	);
	CREATE TABLE IF NOT EXISTS field_anchors (
		field TEXT NOT NULL,
		phrase TEXT NOT NULL,
		hit_count INTEGER DEFAULT 1,
		last_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (field, phrase)
	);
	CREATE TABLE IF NOT EXISTS url_memory (
		field TEXT NOT NULL,
		url TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		last_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (field, url)
	);
	CREATE TABLE IF NOT EXISTS domain_field_yield (
		domain TEXT NOT NULL,
		field TEXT NOT NULL,
		seen_count INTEGER DEFAULT 0,
		used_count INTEGER DEFAULT 0,
		last_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (domain, field)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the store.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) withWriteLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("learning write lock: %w", err)
	}
	defer s.lock.Unlock()
	return fn()
}

// AcceptedValue is one accepted field value with evidence, the only thing
// that populates the learning stores.
type AcceptedValue struct {
	Field      string
	Value      string
	Anchors    []string
	URL        string
	Domain     string
	Confidence float64
}

// Populate records accepted values with evidence into all applicable stores.
func (s *Store) Populate(values []AcceptedValue) error {
	return s.withWriteLock(func() error {
		now := s.now().UTC()
		for _, v := range values {
			if v.Value != "" {
				norm := normalizeValue(v.Value)
				if _, err := s.db.Exec(`
					INSERT INTO component_lexicon (field, normalized_value, canonical_value, seen_count, last_seen_at)
					VALUES (?, ?, ?, 1, ?)
					ON CONFLICT(field, normalized_value) DO UPDATE SET
						seen_count = seen_count + 1, last_seen_at = excluded.last_seen_at
				`, v.Field, norm, v.Value, now); err != nil {
					return fmt.Errorf("populate lexicon: %w", err)
				}
			}
			for _, phrase := range v.Anchors {
				if _, err := s.db.Exec(`
					INSERT INTO field_anchors (field, phrase, hit_count, last_seen_at)
					VALUES (?, ?, 1, ?)
					ON CONFLICT(field, phrase) DO UPDATE SET
						hit_count = hit_count + 1, last_seen_at = excluded.last_seen_at
				`, v.Field, phrase, now); err != nil {
					return fmt.Errorf("populate anchors: %w", err)
				}
			}
			if v.URL != "" {
				if _, err := s.db.Exec(`
					INSERT INTO url_memory (field, url, confidence, last_seen_at)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(field, url) DO UPDATE SET
						confidence = MAX(confidence, excluded.confidence),
						last_seen_at = excluded.last_seen_at
				`, v.Field, v.URL, v.Confidence, now); err != nil {
					return fmt.Errorf("populate url memory: %w", err)
				}
			}
		}
		return nil
	})
}

// RecordSeen notes that a domain served a page where a field could have
// appeared.
func (s *Store) RecordSeen(domain, field string) error {
	return s.bumpYield(domain, field, "seen_count")
}

// RecordUsed notes that a domain actually contributed an accepted value for a
// field.
func (s *Store) RecordUsed(domain, field string) error {
	return s.bumpYield(domain, field, "used_count")
}

func (s *Store) bumpYield(domain, field, column string) error {
	return s.withWriteLock(func() error {
		q := fmt.Sprintf(`
			INSERT INTO domain_field_yield (domain, field, %[1]s, last_seen_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(domain, field) DO UPDATE SET
				%[1]s = %[1]s + 1, last_seen_at = excluded.last_seen_at
		`, column)
		_, err := s.db.Exec(q, strings.ToLower(domain), field, s.now().UTC())
		return err
	})
}

// DomainYield is the seen/used ratio for one (domain, field) pair.
type DomainYield struct {
	Domain    string  `json:"domain"`
	Field     string  `json:"field"`
	SeenCount int     `json:"seen_count"`
	UsedCount int     `json:"used_count"`
	Yield     float64 `json:"yield"`
}

// LowYieldDomains surfaces domains with seen >= minSeen and yield <= maxYield
// so the planner can deprioritize them.
func (s *Store) LowYieldDomains(minSeen int, maxYield float64) ([]DomainYield, error) {
	rows, err := s.db.Query(`
		SELECT domain, field, seen_count, used_count FROM domain_field_yield
		WHERE seen_count >= ?
	`, minSeen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DomainYield
	for rows.Next() {
		var d DomainYield
		if err := rows.Scan(&d.Domain, &d.Field, &d.SeenCount, &d.UsedCount); err != nil {
			return nil, err
		}
		d.Yield = float64(d.UsedCount) / float64(d.SeenCount)
		if d.Yield <= maxYield {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

// statusFor classifies an entry age against a half-life and optional expiry.
func statusFor(age time.Duration, halfLifeDays, expiryDays float64) DecayStatus {
	days := age.Hours() / 24
	if expiryDays > 0 && days >= expiryDays {
		return DecayExpired
	}
	if days >= halfLifeDays {
		return DecayDecayed
	}
	return DecayActive
}

// decayWeight halves per half-life elapsed.
func decayWeight(age time.Duration, halfLifeDays float64) float64 {
	return math.Pow(2, -(age.Hours()/24)/halfLifeDays)
}

func normalizeValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

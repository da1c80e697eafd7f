// Package review persists the shared accept/confirm lane state used by both
// human review and automated confirmation, plus component identities and
// their merge operation. Entities live in the store keyed by stable IDs;
// relations are ID references, and merges rewrite IDs.
package review

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// ConfirmStatus is the automated-confirmation lane.
type ConfirmStatus string

const (
	ConfirmPending   ConfirmStatus = "pending"
	ConfirmConfirmed ConfirmStatus = "confirmed"
)

// AcceptStatus is the human-acceptance lane. Empty means "no decision yet".
type AcceptStatus string

const (
	AcceptNone     AcceptStatus = ""
	AcceptAccepted AcceptStatus = "accepted"
)

// LaneKey identifies one reviewable value row.
type LaneKey struct {
	Category    string
	TargetKind  string // enum_value or component
	FieldKey    string
	LaneValue   string // enum_value_norm or component identifier
	PropertyKey string // optional, component property rows only
}

// LaneState is the current state of one reviewable key.
type LaneState struct {
	Key                 LaneKey
	SelectedValue       string
	SelectedCandidateID string
	AIConfirm           ConfirmStatus
	UserAccept          AcceptStatus
}

// LaneAction is one confirm/accept application.
type LaneAction struct {
	Key                 LaneKey
	Action              string // confirm or accept
	SelectedValue       string
	SelectedCandidateID string
}

// Store is the durable review state.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the review database.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create review dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open review db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS key_review_state (
		category TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		field_key TEXT NOT NULL,
		lane_value TEXT NOT NULL,
		property_key TEXT NOT NULL DEFAULT '',
		selected_value TEXT DEFAULT '',
		selected_candidate_id TEXT DEFAULT '',
		ai_confirm TEXT NOT NULL DEFAULT 'pending',
		user_accept TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (category, target_kind, field_key, lane_value, property_key)
	);
	CREATE TABLE IF NOT EXISTS component_identities (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS component_values (
		identity_id TEXT NOT NULL,
		property_key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (identity_id, property_key)
	);
	CREATE TABLE IF NOT EXISTS component_aliases (
		identity_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		PRIMARY KEY (identity_id, alias)
	);
	CREATE TABLE IF NOT EXISTS component_links (
		identity_id TEXT NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (identity_id, url)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the backing database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the lane state for a key; a missing row reads as pending/none.
func (s *Store) Get(key LaneKey) (LaneState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key LaneKey) (LaneState, error) {
	st := LaneState{Key: key, AIConfirm: ConfirmPending, UserAccept: AcceptNone}
	err := s.db.QueryRow(`
		SELECT selected_value, selected_candidate_id, ai_confirm, user_accept
		FROM key_review_state
		WHERE category=? AND target_kind=? AND field_key=? AND lane_value=? AND property_key=?
	`, key.Category, key.TargetKind, key.FieldKey, key.LaneValue, key.PropertyKey).
		Scan(&st.SelectedValue, &st.SelectedCandidateID, (*string)(&st.AIConfirm), (*string)(&st.UserAccept))
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return LaneState{}, err
	}
	return st, nil
}

// ApplySharedLaneState applies a confirm or accept action.
//
// confirm: sets ai_confirm to confirmed; never changes the selection; never
// clears user accept. accept with the same selection: keeps ai_confirm as-is
// and records the acceptance. accept with a changed selection: updates the
// selection, forces ai_confirm back to pending, records the acceptance.
func (s *Store) ApplySharedLaneState(a LaneAction) (LaneState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.getLocked(a.Key)
	if err != nil {
		return LaneState{}, err
	}

	switch a.Action {
	case "confirm":
		cur.AIConfirm = ConfirmConfirmed
		if cur.SelectedValue == "" && a.SelectedValue != "" {
			cur.SelectedValue = a.SelectedValue
			cur.SelectedCandidateID = a.SelectedCandidateID
		}
	case "accept":
		changed := a.SelectedValue != cur.SelectedValue
		if changed {
			cur.SelectedValue = a.SelectedValue
			cur.SelectedCandidateID = a.SelectedCandidateID
			cur.AIConfirm = ConfirmPending
		}
		cur.UserAccept = AcceptAccepted
	default:
		return LaneState{}, fmt.Errorf("unknown lane action %q", a.Action)
	}

	if err := s.putLocked(cur); err != nil {
		return LaneState{}, err
	}
	return cur, nil
}

func (s *Store) putLocked(st LaneState) error {
	_, err := s.db.Exec(`
		INSERT INTO key_review_state
			(category, target_kind, field_key, lane_value, property_key,
			 selected_value, selected_candidate_id, ai_confirm, user_accept)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, target_kind, field_key, lane_value, property_key) DO UPDATE SET
			selected_value = excluded.selected_value,
			selected_candidate_id = excluded.selected_candidate_id,
			ai_confirm = excluded.ai_confirm,
			user_accept = excluded.user_accept
	`, st.Key.Category, st.Key.TargetKind, st.Key.FieldKey, st.Key.LaneValue, st.Key.PropertyKey,
		st.SelectedValue, st.SelectedCandidateID, string(st.AIConfirm), string(st.UserAccept))
	return err
}

// Pending returns every lane in a category still awaiting a confirm or an
// acceptance, ordered by field then value.
func (s *Store) Pending(category string) ([]LaneState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT target_kind, field_key, lane_value, property_key,
		       selected_value, selected_candidate_id, ai_confirm, user_accept
		FROM key_review_state
		WHERE category=? AND (ai_confirm='pending' OR user_accept='')
		ORDER BY field_key, lane_value
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LaneState
	for rows.Next() {
		st := LaneState{Key: LaneKey{Category: category}}
		if err := rows.Scan(&st.Key.TargetKind, &st.Key.FieldKey, &st.Key.LaneValue, &st.Key.PropertyKey,
			&st.SelectedValue, &st.SelectedCandidateID, (*string)(&st.AIConfirm), (*string)(&st.UserAccept)); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// NormalizeEnumValue builds the lane value for an enum row.
func NormalizeEnumValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

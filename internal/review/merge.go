package review

import (
	"database/sql"
	"fmt"
)

// Identity is one component identity row.
type Identity struct {
	ID       string
	Category string
	Name     string
	Values   map[string]string
	Aliases  []string
	Links    []string
}

// UpsertIdentity stores an identity with its values, aliases and links.
func (s *Store) UpsertIdentity(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO component_identities (id, category, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id.ID, id.Category, id.Name); err != nil {
		return err
	}
	for k, v := range id.Values {
		if _, err := tx.Exec(`
			INSERT INTO component_values (identity_id, property_key, value) VALUES (?, ?, ?)
			ON CONFLICT(identity_id, property_key) DO UPDATE SET value = excluded.value
		`, id.ID, k, v); err != nil {
			return err
		}
	}
	for _, a := range id.Aliases {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO component_aliases (identity_id, alias) VALUES (?, ?)`, id.ID, a); err != nil {
			return err
		}
	}
	for _, l := range id.Links {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO component_links (identity_id, url) VALUES (?, ?)`, id.ID, l); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetIdentity loads an identity by ID.
func (s *Store) GetIdentity(id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Identity{ID: id, Values: make(map[string]string)}
	err := s.db.QueryRow(`SELECT category, name FROM component_identities WHERE id = ?`, id).
		Scan(&out.Category, &out.Name)
	if err == sql.ErrNoRows {
		return Identity{}, fmt.Errorf("identity %s not found", id)
	}
	if err != nil {
		return Identity{}, err
	}

	rows, err := s.db.Query(`SELECT property_key, value FROM component_values WHERE identity_id = ?`, id)
	if err != nil {
		return Identity{}, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return Identity{}, err
		}
		out.Values[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Identity{}, err
	}

	out.Aliases, err = s.stringColumn(`SELECT alias FROM component_aliases WHERE identity_id = ? ORDER BY alias`, id)
	if err != nil {
		return Identity{}, err
	}
	out.Links, err = s.stringColumn(`SELECT url FROM component_links WHERE identity_id = ? ORDER BY url`, id)
	if err != nil {
		return Identity{}, err
	}
	return out, nil
}

func (s *Store) stringColumn(query, arg string) ([]string, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MergeComponentIdentities folds sourceID into targetID: target wins on value
// collisions, source-exclusive values transfer, links and aliases union,
// review-state rows are rewritten to the target, and the source identity is
// deleted. For review-state collisions the more-progressed status wins
// (confirmed over pending, accepted over none).
func (s *Store) MergeComponentIdentities(sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sourceID == targetID {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM component_identities WHERE id IN (?, ?)`, sourceID, targetID).Scan(&exists); err != nil {
		return err
	}
	if exists != 2 {
		return fmt.Errorf("merge requires both identities, found %d of 2", exists)
	}

	// values: target wins, source-exclusive transfers
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO component_values (identity_id, property_key, value)
		SELECT ?, property_key, value FROM component_values WHERE identity_id = ?
	`, targetID, sourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO component_aliases (identity_id, alias)
		SELECT ?, alias FROM component_aliases WHERE identity_id = ?
	`, targetID, sourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO component_links (identity_id, url)
		SELECT ?, url FROM component_links WHERE identity_id = ?
	`, targetID, sourceID); err != nil {
		return err
	}

	// review rows keyed by the source: rewrite the lane value, resolving
	// collisions by keeping the more-progressed status per lane.
	srcRows, err := tx.Query(`
		SELECT category, target_kind, field_key, property_key,
		       selected_value, selected_candidate_id, ai_confirm, user_accept
		FROM key_review_state WHERE lane_value = ?
	`, sourceID)
	if err != nil {
		return err
	}
	type laneRow struct {
		cat, kind, field, prop           string
		selVal, selCand, confirm, accept string
	}
	var moved []laneRow
	for srcRows.Next() {
		var r laneRow
		if err := srcRows.Scan(&r.cat, &r.kind, &r.field, &r.prop, &r.selVal, &r.selCand, &r.confirm, &r.accept); err != nil {
			srcRows.Close()
			return err
		}
		moved = append(moved, r)
	}
	srcRows.Close()
	if err := srcRows.Err(); err != nil {
		return err
	}

	for _, r := range moved {
		var confirm, accept, selVal, selCand string
		err := tx.QueryRow(`
			SELECT ai_confirm, user_accept, selected_value, selected_candidate_id
			FROM key_review_state
			WHERE category=? AND target_kind=? AND field_key=? AND lane_value=? AND property_key=?
		`, r.cat, r.kind, r.field, targetID, r.prop).Scan(&confirm, &accept, &selVal, &selCand)
		switch err {
		case sql.ErrNoRows:
			confirm, accept, selVal, selCand = r.confirm, r.accept, r.selVal, r.selCand
		case nil:
			if r.confirm == string(ConfirmConfirmed) {
				confirm = r.confirm
			}
			if r.accept == string(AcceptAccepted) {
				accept = r.accept
			}
			if selVal == "" {
				selVal, selCand = r.selVal, r.selCand
			}
		default:
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO key_review_state
				(category, target_kind, field_key, lane_value, property_key,
				 selected_value, selected_candidate_id, ai_confirm, user_accept)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(category, target_kind, field_key, lane_value, property_key) DO UPDATE SET
				selected_value = excluded.selected_value,
				selected_candidate_id = excluded.selected_candidate_id,
				ai_confirm = excluded.ai_confirm,
				user_accept = excluded.user_accept
		`, r.cat, r.kind, r.field, targetID, r.prop, selVal, selCand, confirm, accept); err != nil {
			return err
		}
	}

	for _, del := range []string{
		`DELETE FROM key_review_state WHERE lane_value = ?`,
		`DELETE FROM component_values WHERE identity_id = ?`,
		`DELETE FROM component_aliases WHERE identity_id = ?`,
		`DELETE FROM component_links WHERE identity_id = ?`,
		`DELETE FROM component_identities WHERE id = ?`,
	} {
		if _, err := tx.Exec(del, sourceID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

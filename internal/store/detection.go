package store

import (
	"database/sql"
	"time"
)

// Detection is one recorded tick outcome.
type Detection struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
	Action      string    `json:"action"`
	ResponseID  string    `json:"response_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DetectionRepository records and lists detection history.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Record inserts a detection. When ResponseID is empty the response bound to
// the label, if any, is linked.
func (r *DetectionRepository) Record(d *Detection) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	var responseID sql.NullString
	if d.ResponseID != "" {
		responseID = sql.NullString{String: d.ResponseID, Valid: true}
	} else {
		err := r.db.QueryRow(`SELECT id FROM responses WHERE label = ?`, d.Label).Scan(&responseID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
	}

	result, err := r.db.Exec(
		`INSERT INTO detections (label, probability, action, response_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		d.Label, d.Probability, d.Action, responseID, d.CreatedAt,
	)
	if err != nil {
		return err
	}

	d.ID, err = result.LastInsertId()
	d.ResponseID = responseID.String
	return err
}

// Recent returns up to limit detections, newest first.
func (r *DetectionRepository) Recent(limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, label, probability, action, response_id, created_at
		 FROM detections ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		var responseID sql.NullString
		if err := rows.Scan(&d.ID, &d.Label, &d.Probability, &d.Action, &responseID, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.ResponseID = responseID.String
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// Prune keeps the newest keep detections and deletes the rest.
func (r *DetectionRepository) Prune(keep int) (int64, error) {
	result, err := r.db.Exec(
		`DELETE FROM detections WHERE id NOT IN (
			SELECT id FROM detections ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of stored detections.
func (r *DetectionRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, err
}

package store

import (
	"database/sql"
	"errors"
	"time"
)

// Response binds a classifier label to the media resource played for it.
type Response struct {
	ID        string
	Label     string
	Resource  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResponseRepository provides CRUD operations for responses.
type ResponseRepository struct {
	db *sql.DB
}

// Responses returns the response repository for this store.
func (s *Store) Responses() *ResponseRepository {
	return &ResponseRepository{db: s.db}
}

// Create inserts a new response into the database.
func (r *ResponseRepository) Create(resp *Response) error {
	now := time.Now()
	resp.CreatedAt = now
	resp.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO responses (id, label, resource, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		resp.ID, resp.Label, resp.Resource, resp.CreatedAt, resp.UpdatedAt,
	)
	return err
}

// GetByID retrieves a response by its ID.
func (r *ResponseRepository) GetByID(id string) (*Response, error) {
	return r.scanOne(
		`SELECT id, label, resource, created_at, updated_at FROM responses WHERE id = ?`, id,
	)
}

// GetByLabel retrieves the response bound to a label.
func (r *ResponseRepository) GetByLabel(label string) (*Response, error) {
	return r.scanOne(
		`SELECT id, label, resource, created_at, updated_at FROM responses WHERE label = ?`, label,
	)
}

func (r *ResponseRepository) scanOne(query string, arg any) (*Response, error) {
	resp := &Response{}
	err := r.db.QueryRow(query, arg).
		Scan(&resp.ID, &resp.Label, &resp.Resource, &resp.CreatedAt, &resp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resp, nil
}

// List retrieves all responses ordered by label.
func (r *ResponseRepository) List() ([]*Response, error) {
	rows, err := r.db.Query(
		`SELECT id, label, resource, created_at, updated_at FROM responses ORDER BY label`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []*Response
	for rows.Next() {
		resp := &Response{}
		if err := rows.Scan(&resp.ID, &resp.Label, &resp.Resource, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return responses, nil
}

// Library returns the label to resource mapping of all responses.
func (r *ResponseRepository) Library() (map[string]string, error) {
	responses, err := r.List()
	if err != nil {
		return nil, err
	}

	lib := make(map[string]string, len(responses))
	for _, resp := range responses {
		lib[resp.Label] = resp.Resource
	}
	return lib, nil
}

// Update updates an existing response in the database.
func (r *ResponseRepository) Update(resp *Response) error {
	resp.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE responses SET label = ?, resource = ?, updated_at = ? WHERE id = ?`,
		resp.Label, resp.Resource, resp.UpdatedAt, resp.ID,
	)
	if err != nil {
		return err
	}

	return expectRow(result)
}

// Delete removes a response by its ID.
func (r *ResponseRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM responses WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return expectRow(result)
}

// DeleteByLabel removes the response bound to a label.
func (r *ResponseRepository) DeleteByLabel(label string) error {
	result, err := r.db.Exec(`DELETE FROM responses WHERE label = ?`, label)
	if err != nil {
		return err
	}

	return expectRow(result)
}

// expectRow maps an update that touched no row to ErrNotFound.
func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

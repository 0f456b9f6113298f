package projects

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"arduinohub/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// Save inserts an archived project. CreatedAt is filled in when zero.
func (r *Repo) Save(ctx context.Context, p models.Project) (models.Project, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Components == nil {
		p.Components = []models.DetectedComponent{}
	}
	comps, err := json.Marshal(p.Components)
	if err != nil {
		return p, fmt.Errorf("encode components: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, description, components, code, principles, guide, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Description, string(comps), p.Code, p.Principles, p.Guide, p.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

func (r *Repo) Get(ctx context.Context, userID, id string) (*models.Project, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, user_id, description, components, code, principles, guide, created_at
		FROM projects
		WHERE user_id = ? AND id = ?
	`, userID, id)

	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns a user's projects newest first, without the generated text.
func (r *Repo) List(ctx context.Context, userID string, limit, offset int) ([]models.Project, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projects WHERE user_id = ?
	`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, description, components, '', '', '', created_at
		FROM projects
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]models.Project, 0, limit)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list projects rows: %w", err)
	}
	return out, total, nil
}

func (r *Repo) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM projects
		WHERE user_id = ? AND id = ?
	`, userID, id)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (*models.Project, error) {
	var p models.Project
	var comps string
	if err := s.Scan(&p.ID, &p.UserID, &p.Description, &comps, &p.Code, &p.Principles, &p.Guide, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(comps), &p.Components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	return &p, nil
}

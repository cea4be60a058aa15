package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/burnline/burnline/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateProject(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (
			id, title, audio_key, segment_count, status, options
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		project.ID, project.Title, project.AudioKey,
		project.SegmentCount, project.Status, project.Options,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT
			id, title, audio_key, segment_count, status, options,
			output_key, error_code, error_message, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	project := &models.Project{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&project.ID, &project.Title, &project.AudioKey,
		&project.SegmentCount, &project.Status, &project.Options,
		&project.OutputKey, &project.ErrorCode, &project.ErrorMessage,
		&project.CreatedAt, &project.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjects returns projects ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListProjects(ctx context.Context, status string, limit, offset int) ([]models.Project, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `
		SELECT
			id, title, audio_key, segment_count, status, options,
			output_key, error_code, error_message, created_at, updated_at
		FROM projects
	`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(
			&p.ID, &p.Title, &p.AudioKey,
			&p.SegmentCount, &p.Status, &p.Options,
			&p.OutputKey, &p.ErrorCode, &p.ErrorMessage,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, nil
}

// CountProjects returns the total number of projects, optionally filtered by status.
func (db *DB) CountProjects(ctx context.Context, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE status = $1`, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count)
	return count, err
}

func (db *DB) UpdateProjectStatus(ctx context.Context, id uuid.UUID, status models.ProjectStatus) error {
	query := `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) UpdateProjectError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	query := `
		UPDATE projects
		SET status = $1, error_code = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.ProjectStatusFailed, errorCode, errorMessage, id)
	return err
}

// SetProjectOutput records the final video's storage key along with the
// project's terminal status (complete or partially complete).
func (db *DB) SetProjectOutput(ctx context.Context, id uuid.UUID, outputKey string, status models.ProjectStatus) error {
	query := `
		UPDATE projects
		SET output_key = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, outputKey, status, id)
	return err
}

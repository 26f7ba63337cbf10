package postgres

import (
	"context"
	"fmt"

	"github.com/cyfronet-fid/marketplace-egi/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProjectRepository struct {
	db
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db{pool: pool}}
}

func (r *ProjectRepository) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	const query = `
SELECT id, user_id, name, email, issue_id, issue_key, issue_status, created_at
FROM projects
WHERE id = $1`

	var p domain.Project
	var issueStatus string
	err := r.queryRow(ctx, query, projectID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.Email, &p.IssueID, &p.IssueKey, &issueStatus, &p.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Project{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Project{}, domain.ErrProjectNotFound
		}
		return domain.Project{}, fmt.Errorf("get project: %w", err)
	}
	p.IssueStatus = domain.IssueStatus(issueStatus)
	return p, nil
}

// SetProjectIssue records the project's tracker registration.
func (r *ProjectRepository) SetProjectIssue(ctx context.Context, projectID, issueID, issueKey string, status domain.IssueStatus) error {
	const stmt = `UPDATE projects SET issue_id = $2, issue_key = $3, issue_status = $4 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, projectID, issueID, issueKey, status)
	if err != nil {
		return fmt.Errorf("set project issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) SetProjectIssueStatus(ctx context.Context, projectID string, status domain.IssueStatus) error {
	const stmt = `UPDATE projects SET issue_status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, projectID, status)
	if err != nil {
		return fmt.Errorf("set project issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/croc/internal/engine/projector"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a project.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository persists projected states. Saves replace the whole
// project atomically; a reader never observes a half-written snapshot.
type SnapshotRepository struct {
	db *sql.DB
}

func newSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SaveState writes the state as the project's snapshot, replacing any
// previous rows in one transaction.
func (r *SnapshotRepository) SaveState(s *projector.State) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// ON DELETE CASCADE clears child tables with the project row.
	if _, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, s.ProjectID); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	p := toProjectModel(s, time.Now())
	if _, err := tx.Exec(
		`INSERT INTO projects (id, root_path, phase, revision, version, review_entered_at, stale_marked, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RootPath, p.Phase, p.Revision, p.Version, p.ReviewEnteredAt, p.StaleMarked, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert project snapshot: %w", err)
	}

	for _, a := range s.Assignments {
		m := toAssignmentModel(s.ProjectID, a)
		if _, err := tx.Exec(
			`INSERT INTO assignments (project_id, task_id, role, title, status, worker_id, attempt_count, created_seq, updated_seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ProjectID, m.TaskID, m.Role, m.Title, m.Status, m.WorkerID, m.AttemptCount, m.CreatedSeq, m.UpdatedSeq,
		); err != nil {
			return fmt.Errorf("failed to insert assignment %s: %w", m.TaskID, err)
		}
	}

	for _, item := range s.ContextItems {
		if _, err := tx.Exec(
			`INSERT INTO context_items (project_id, digest, path, ingested_seq) VALUES (?, ?, ?, ?)`,
			s.ProjectID, item.Digest, item.Path, item.IngestedSeq,
		); err != nil {
			return fmt.Errorf("failed to insert context item %s: %w", item.Digest, err)
		}
	}

	for _, d := range s.Reviews {
		if _, err := tx.Exec(
			`INSERT INTO reviews (project_id, seq, reviewer_kind, verdict, rationale, revision)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.ProjectID, d.Seq, d.ReviewerKind, d.Verdict, d.Rationale, d.Revision,
		); err != nil {
			return fmt.Errorf("failed to insert review at seq %d: %w", d.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadState reads a project's snapshot. Returns ErrSnapshotNotFound when
// the project has never been saved.
func (r *SnapshotRepository) LoadState(projectID string) (*projector.State, error) {
	var p ProjectModel
	err := r.db.QueryRow(
		`SELECT id, root_path, phase, revision, version, review_entered_at, stale_marked, updated_at
		 FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &p.RootPath, &p.Phase, &p.Revision, &p.Version, &p.ReviewEnteredAt, &p.StaleMarked, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project snapshot: %w", err)
	}

	s := projector.NewState(projectID)
	p.apply(s)

	if err := r.loadAssignments(s); err != nil {
		return nil, err
	}
	if err := r.loadContextItems(s); err != nil {
		return nil, err
	}
	if err := r.loadReviews(s); err != nil {
		return nil, err
	}
	s.RestoreDigests()
	return s, nil
}

func (r *SnapshotRepository) loadAssignments(s *projector.State) error {
	rows, err := r.db.Query(
		`SELECT project_id, task_id, role, title, status, worker_id, attempt_count, created_seq, updated_seq
		 FROM assignments WHERE project_id = ?`, s.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m AssignmentModel
		if err := rows.Scan(&m.ProjectID, &m.TaskID, &m.Role, &m.Title, &m.Status,
			&m.WorkerID, &m.AttemptCount, &m.CreatedSeq, &m.UpdatedSeq); err != nil {
			return fmt.Errorf("failed to scan assignment row: %w", err)
		}
		s.Assignments[m.TaskID] = m.toDomain()
	}
	return rows.Err()
}

func (r *SnapshotRepository) loadContextItems(s *projector.State) error {
	rows, err := r.db.Query(
		`SELECT project_id, digest, path, ingested_seq
		 FROM context_items WHERE project_id = ? ORDER BY ingested_seq ASC`, s.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to load context items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m ContextItemModel
		if err := rows.Scan(&m.ProjectID, &m.Digest, &m.Path, &m.IngestedSeq); err != nil {
			return fmt.Errorf("failed to scan context item row: %w", err)
		}
		s.ContextItems = append(s.ContextItems, m.toDomain())
	}
	return rows.Err()
}

func (r *SnapshotRepository) loadReviews(s *projector.State) error {
	rows, err := r.db.Query(
		`SELECT project_id, seq, reviewer_kind, verdict, rationale, revision
		 FROM reviews WHERE project_id = ? ORDER BY seq ASC`, s.ProjectID,
	)
	if err != nil {
		return fmt.Errorf("failed to load reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m ReviewModel
		if err := rows.Scan(&m.ProjectID, &m.Seq, &m.ReviewerKind, &m.Verdict, &m.Rationale, &m.Revision); err != nil {
			return fmt.Errorf("failed to scan review row: %w", err)
		}
		s.Reviews = append(s.Reviews, m.toDomain())
	}
	return rows.Err()
}

// DeleteProject removes a project's snapshot entirely.
func (r *SnapshotRepository) DeleteProject(projectID string) error {
	if _, err := r.db.Exec(`DELETE FROM projects WHERE id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ListProjects returns the ids of all snapshotted projects.
func (r *SnapshotRepository) ListProjects() ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

type Repository interface {
	UpsertAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	GetAssetByPath(ctx context.Context, path string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id string) error

	SaveProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error

	JobRepository

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// JobRepository is the slice of the store the export manager writes through.
type JobRepository interface {
	CreateExportJob(ctx context.Context, job *ExportJob) error
	UpdateExportJob(ctx context.Context, job *ExportJob) error
	GetExportJob(ctx context.Context, id string) (*ExportJob, error)
	ListExportJobs(ctx context.Context, limit int) ([]*ExportJob, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const assetColumns = `id, kind, name, path, duration_ms, width, height, size_bytes, fingerprint, thumbnail_path, created_at`

// UpsertAsset inserts the asset or refreshes the probed metadata of the row
// already registered for the same path. The existing id is kept.
func (r *SQLiteRepository) UpsertAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			duration_ms = excluded.duration_ms,
			width = excluded.width,
			height = excluded.height,
			size_bytes = excluded.size_bytes,
			fingerprint = excluded.fingerprint,
			thumbnail_path = excluded.thumbnail_path
	`, a.ID, string(a.Kind), a.Name, a.Path, a.DurationMs, a.Width, a.Height, a.SizeBytes,
		nullString(a.Fingerprint), nullString(a.ThumbnailPath), a.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return scanAsset(row)
}

func (r *SQLiteRepository) GetAssetByPath(ctx context.Context, path string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE path = ?`, path)
	return scanAsset(row)
}

func (r *SQLiteRepository) ListAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) DeleteAsset(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*Asset, error) {
	var a Asset
	var kind, createdAt string
	var fingerprint, thumbnail sql.NullString

	err := row.Scan(&a.ID, &kind, &a.Name, &a.Path, &a.DurationMs, &a.Width, &a.Height, &a.SizeBytes,
		&fingerprint, &thumbnail, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Kind = timeline.AssetKind(kind)
	a.Fingerprint = fingerprint.String
	a.ThumbnailPath = thumbnail.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// SaveProject inserts or replaces a project document, keeping its creation time.
func (r *SQLiteRepository) SaveProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, string(p.Document), p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, document, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)

	var p Project
	var doc, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &doc, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Document = []byte(doc)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// ListProjects returns project headers, most recently saved first. Documents
// are not loaded.
func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM projects ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

const jobColumns = `id, project_id, status, phase, progress, output_path, file_size_bytes, segments, error, published_url, created_at, updated_at`

func (r *SQLiteRepository) CreateExportJob(ctx context.Context, j *ExportJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, nullString(j.ProjectID), j.Status, nullString(j.Phase), j.Progress, j.OutputPath,
		j.FileSizeBytes, j.Segments, nullString(j.Error), nullString(j.PublishedURL),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

// UpdateExportJob writes every mutable column of the job.
func (r *SQLiteRepository) UpdateExportJob(ctx context.Context, j *ExportJob) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET
			status = ?, phase = ?, progress = ?, file_size_bytes = ?, segments = ?,
			error = ?, published_url = ?, updated_at = ?
		WHERE id = ?
	`, j.Status, nullString(j.Phase), j.Progress, j.FileSizeBytes, j.Segments,
		nullString(j.Error), nullString(j.PublishedURL), j.UpdatedAt.Format(time.RFC3339), j.ID)
	return err
}

func (r *SQLiteRepository) GetExportJob(ctx context.Context, id string) (*ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *SQLiteRepository) ListExportJobs(ctx context.Context, limit int) ([]*ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ExportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row scanner) (*ExportJob, error) {
	var j ExportJob
	var projectID, phase, errMsg, published sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &projectID, &j.Status, &phase, &j.Progress, &j.OutputPath, &j.FileSizeBytes,
		&j.Segments, &errMsg, &published, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.ProjectID = projectID.String
	j.Phase = phase.String
	j.Error = errMsg.String
	j.PublishedURL = published.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

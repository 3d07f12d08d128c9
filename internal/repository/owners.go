package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// ownerRepo — реализация OwnerRepository для PostgreSQL.
type ownerRepo struct {
	db DBTX
}

// CreateOrGetLogicalDocument использует INSERT ... ON CONFLICT DO UPDATE,
// чтобы в обоих случаях получить строку через RETURNING.
func (r *ownerRepo) CreateOrGetLogicalDocument(ctx context.Context, d *model.LogicalDocument) (*model.LogicalDocument, error) {
	query := `
		INSERT INTO logical_documents (id, project_id, name, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, name, type) DO UPDATE
			SET name = EXCLUDED.name
		RETURNING id, project_id, name, type, created_at, updated_at`

	out := &model.LogicalDocument{}
	err := r.db.QueryRow(ctx, query, d.ID, d.ProjectID, d.Name, d.Type).Scan(
		&out.ID, &out.ProjectID, &out.Name, &out.Type, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания логического документа: %w", err)
	}
	return out, nil
}

func (r *ownerRepo) FindLogicalDocument(ctx context.Context, id string) (*model.LogicalDocument, error) {
	query := `
		SELECT id, project_id, name, type, created_at, updated_at
		FROM logical_documents
		WHERE id = $1`

	d := &model.LogicalDocument{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ProjectID, &d.Name, &d.Type, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения логического документа: %w", err)
	}
	return d, nil
}

func (r *ownerRepo) CreateDocumentVersion(ctx context.Context, v *model.DocumentVersion) error {
	query := `
		INSERT INTO document_versions (id, logical_document_id, managed_file_id, version_tag,
			is_generic_version, competition_series, competition_level,
			competition_project_name, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		v.ID, v.LogicalDocumentID, v.ManagedFileID, v.VersionTag,
		v.IsGenericVersion, v.CompetitionSeries, v.CompetitionLevel,
		v.CompetitionProjectName, v.Notes,
	).Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s уже привязан к версии документа", ErrConflict, v.ManagedFileID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: логический документ %s или файл %s", ErrNotFound, v.LogicalDocumentID, v.ManagedFileID)
		}
		return fmt.Errorf("ошибка создания версии документа: %w", err)
	}
	return nil
}

func (r *ownerRepo) CreateProjectAsset(ctx context.Context, a *model.ProjectAsset) error {
	query := `
		INSERT INTO project_assets (id, project_id, name, asset_type, managed_file_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.ProjectID, a.Name, a.AssetType, a.ManagedFileID, a.Notes,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: файл %s", ErrNotFound, a.ManagedFileID)
		}
		return fmt.Errorf("ошибка создания ресурса проекта: %w", err)
	}
	return nil
}

func (r *ownerRepo) CreateSharedResource(ctx context.Context, s *model.SharedResource) error {
	query := `
		INSERT INTO shared_resources (id, resource_type, name, managed_file_id, custom_fields, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	customFields := s.CustomFields
	if customFields == nil {
		customFields = map[string]string{}
	}

	err := r.db.QueryRow(ctx, query,
		s.ID, s.ResourceType, s.Name, s.ManagedFileID, customFields, s.Notes,
	).Scan(&s.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: файл %s", ErrNotFound, s.ManagedFileID)
		}
		return fmt.Errorf("ошибка создания общего ресурса: %w", err)
	}
	return nil
}

func (r *ownerRepo) AttachExpenseInvoice(ctx context.Context, expenseID, fileID string) error {
	return r.attach(ctx, `UPDATE expense_tracking SET invoice_file_id = $2 WHERE id = $1`, expenseID, fileID)
}

func (r *ownerRepo) AttachMilestoneNotification(ctx context.Context, milestoneID, fileID string) error {
	return r.attach(ctx, `UPDATE competition_milestones SET notification_file_id = $2 WHERE id = $1`, milestoneID, fileID)
}

func (r *ownerRepo) attach(ctx context.Context, query, ownerID, fileID string) error {
	tag, err := r.db.Exec(ctx, query, ownerID, fileID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
		}
		return fmt.Errorf("ошибка привязки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: запись-владелец %s", ErrNotFound, ownerID)
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// managedFileColumns — список столбцов managed_files для SELECT-запросов.
const managedFileColumns = `id, name, original_file_name, physical_path, file_hash,
	mime_type, file_size_bytes, created_at, updated_at`

// managedFileRepo — реализация ManagedFileRepository для PostgreSQL.
type managedFileRepo struct {
	db DBTX
}

// scanManagedFile сканирует строку результата в ManagedFile.
func scanManagedFile(row pgx.Row) (*model.ManagedFile, error) {
	f := &model.ManagedFile{}
	err := row.Scan(
		&f.ID, &f.Name, &f.OriginalFileName, &f.PhysicalPath, &f.FileHash,
		&f.MimeType, &f.FileSizeBytes, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *managedFileRepo) findOne(ctx context.Context, where string, arg any) (*model.ManagedFile, error) {
	query := `SELECT ` + managedFileColumns + ` FROM managed_files WHERE ` + where

	f, err := scanManagedFile(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *managedFileRepo) FindByID(ctx context.Context, id string) (*model.ManagedFile, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *managedFileRepo) FindByHash(ctx context.Context, hash string) (*model.ManagedFile, error) {
	return r.findOne(ctx, "file_hash = $1", hash)
}

func (r *managedFileRepo) FindByPath(ctx context.Context, path string) (*model.ManagedFile, error) {
	return r.findOne(ctx, "physical_path = $1", path)
}

func (r *managedFileRepo) Create(ctx context.Context, f *model.ManagedFile) error {
	query := `
		INSERT INTO managed_files (id, name, original_file_name, physical_path, file_hash,
			mime_type, file_size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Name, f.OriginalFileName, f.PhysicalPath, f.FileHash,
		f.MimeType, f.FileSizeBytes,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			switch violatedConstraint(err) {
			case constraintFileHash:
				return fmt.Errorf("%w: %s", ErrHashConflict, f.Hash())
			case constraintPhysicalPath:
				return fmt.Errorf("%w: %s", ErrPathConflict, f.PhysicalPath)
			}
			return fmt.Errorf("%w: файл %s уже зарегистрирован", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

// Delete удаляет запись файла. Внешние ключи document_versions, project_assets
// и shared_resources объявлены ON DELETE RESTRICT, поэтому удаление используемого
// файла отклоняется базой данных.
func (r *managedFileRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM managed_files WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrReferenced, id)
		}
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *managedFileRepo) List(ctx context.Context, limit, offset int) ([]*model.ManagedFile, error) {
	query := `SELECT ` + managedFileColumns + `
		FROM managed_files
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.ManagedFile
	for rows.Next() {
		f, err := scanManagedFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// RewritePathPrefix переносит физические пути из директории oldPrefix в newPrefix.
// Затрагиваются только пути внутри oldPrefix (граница по разделителю).
func (r *managedFileRepo) RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) ([]string, error) {
	oldDir := strings.TrimSuffix(filepath.Clean(oldPrefix), string(filepath.Separator)) + string(filepath.Separator)
	newDir := strings.TrimSuffix(filepath.Clean(newPrefix), string(filepath.Separator)) + string(filepath.Separator)

	query := `
		UPDATE managed_files
		SET physical_path = $2 || substr(physical_path, length($1) + 1),
			updated_at = now()
		WHERE physical_path LIKE $3 ESCAPE '\'
		RETURNING id`

	rows, err := r.db.Query(ctx, query, oldDir, newDir, escapeLike(oldDir)+"%")
	if err != nil {
		return nil, fmt.Errorf("ошибка переписывания путей: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования идентификатора: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: путь в %s уже занят", ErrPathConflict, newDir)
		}
		return nil, fmt.Errorf("ошибка переписывания путей: %w", err)
	}
	return ids, nil
}

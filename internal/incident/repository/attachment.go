package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// AttachmentRepository handles attachment persistence.
type AttachmentRepository struct {
	db *database.DB
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *database.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts an attachment row. New rows always start PENDING; only the
// scan job moves them past that.
func (r *AttachmentRepository) Create(ctx context.Context, scope tenant.Context, att *Attachment) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	att.TenantID = scope.TenantID
	att.ScanStatus = ScanPending

	query := `
		INSERT INTO attachments (id, incident_id, tenant_id, file_name, mime_type, size_bytes, storage_url, scan_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.Querier(ctx).QueryRowxContext(ctx, query,
		att.ID, att.IncidentID, att.TenantID, att.FileName,
		att.MimeType, att.SizeBytes, att.StorageURL, att.ScanStatus,
	).Scan(&att.CreatedAt)
}

// GetByID fetches an attachment within the tenant scope.
func (r *AttachmentRepository) GetByID(ctx context.Context, scope tenant.Context, id string) (*Attachment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var att Attachment
	query := `
		SELECT id, incident_id, tenant_id, file_name, mime_type, size_bytes, storage_url, scan_status, created_at
		FROM attachments WHERE id = $1 AND tenant_id = $2
	`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &att, query, id, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("attachment")
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// ListByIncident returns the attachments of an incident, newest first.
func (r *AttachmentRepository) ListByIncident(ctx context.Context, scope tenant.Context, incidentID string) ([]*Attachment, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var attachments []*Attachment
	query := `
		SELECT id, incident_id, tenant_id, file_name, mime_type, size_bytes, storage_url, scan_status, created_at
		FROM attachments
		WHERE incident_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC, id DESC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &attachments, query, incidentID, scope.TenantID); err != nil {
		return nil, err
	}
	return attachments, nil
}

// UpdateScanStatus is written only by the scanning job. Writing the same
// status twice is a no-op in effect, which keeps reprocessing idempotent.
func (r *AttachmentRepository) UpdateScanStatus(ctx context.Context, scope tenant.Context, id, scanStatus string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `UPDATE attachments SET scan_status = $3 WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID, scanStatus)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("attachment")
	}
	return nil
}

// Delete removes an attachment.
func (r *AttachmentRepository) Delete(ctx context.Context, scope tenant.Context, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `DELETE FROM attachments WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("attachment")
	}
	return nil
}

package stageconfig

import (
	"context"

	"github.com/jmoiron/sqlx"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/approval"
)

type Repository interface {
	ListTypes(ctx context.Context) ([]approval.DocumentType, error)
	ListByType(ctx context.Context, docType approval.DocumentType) ([]approval.StageConfiguration, error)
	ReplaceStages(ctx context.Context, docType approval.DocumentType, stages []approval.StageConfiguration) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListTypes(ctx context.Context) ([]approval.DocumentType, error) {
	var types []approval.DocumentType
	err := r.db.SelectContext(ctx, &types, `
		SELECT DISTINCT document_type FROM approval_stage_configurations
		ORDER BY document_type`)
	if err != nil {
		return nil, err
	}
	return types, nil
}

func (r *postgresRepository) ListByType(ctx context.Context, docType approval.DocumentType) ([]approval.StageConfiguration, error) {
	var stages []approval.StageConfiguration
	err := r.db.SelectContext(ctx, &stages, `
		SELECT * FROM approval_stage_configurations
		WHERE document_type = $1
		ORDER BY stage_number`, docType)
	if err != nil {
		return nil, err
	}
	return stages, nil
}

// ReplaceStages swaps a document type's whole stage sequence in one
// transaction. Running workflows keep their materialized stage rows; the new
// sequence applies to workflows initiated afterwards.
func (r *postgresRepository) ReplaceStages(ctx context.Context, docType approval.DocumentType, stages []approval.StageConfiguration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM approval_stage_configurations WHERE document_type = $1`, docType); err != nil {
		return err
	}
	for _, stage := range stages {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO approval_stage_configurations (
				document_type, stage_number, stage_name, required_role,
				allowed_roles, standard_sla_hours, escalation_threshold_hours,
				is_required, can_skip, auto_approval_rules, is_parallel
			) VALUES (
				:document_type, :stage_number, :stage_name, :required_role,
				:allowed_roles, :standard_sla_hours, :escalation_threshold_hours,
				:is_required, :can_skip, :auto_approval_rules, :is_parallel
			)`, stage); err != nil {
			return err
		}
	}
	return tx.Commit()
}

package approval

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ConfigStore serves the per-document-type stage configuration. Read-only at
// engine runtime.
type ConfigStore interface {
	// Stages returns the ordered stage list for a document type, or an empty
	// slice when the type has no configuration.
	Stages(ctx context.Context, docType DocumentType) ([]StageConfiguration, error)
}

type postgresConfigStore struct {
	db *sqlx.DB
}

// NewConfigStore creates the Postgres-backed configuration store.
func NewConfigStore(db *sqlx.DB) ConfigStore {
	return &postgresConfigStore{db: db}
}

func (s *postgresConfigStore) Stages(ctx context.Context, docType DocumentType) ([]StageConfiguration, error) {
	var stages []StageConfiguration
	err := s.db.SelectContext(ctx, &stages, `
		SELECT * FROM approval_stage_configurations
		WHERE document_type = $1
		ORDER BY stage_number`, docType)
	if err != nil {
		return nil, errStorage("load stage configuration", err)
	}
	return stages, nil
}

// StaticConfigStore is an in-memory ConfigStore for tests and for
// deployments that ship configuration with the binary.
type StaticConfigStore struct {
	stages map[DocumentType][]StageConfiguration
}

func NewStaticConfigStore() *StaticConfigStore {
	return &StaticConfigStore{stages: make(map[DocumentType][]StageConfiguration)}
}

func (s *StaticConfigStore) Set(docType DocumentType, stages []StageConfiguration) {
	s.stages[docType] = stages
}

func (s *StaticConfigStore) Stages(_ context.Context, docType DocumentType) ([]StageConfiguration, error) {
	return s.stages[docType], nil
}

// DefaultStages returns the portal's standard four-stage review sequence for
// a document type. The engine itself never assumes this count; it is data
// like any other configuration.
func DefaultStages(docType DocumentType) []StageConfiguration {
	return []StageConfiguration{
		{
			DocumentType:             docType,
			StageNumber:              1,
			StageName:                "Initial Review",
			RequiredRole:             "reviewer",
			AllowedRoles:             pq.StringArray{"reviewer", "senior_reviewer"},
			StandardSLAHours:         24,
			EscalationThresholdHours: 4,
			IsRequired:               true,
		},
		{
			DocumentType:             docType,
			StageNumber:              2,
			StageName:                "Compliance Check",
			RequiredRole:             "compliance_officer",
			AllowedRoles:             pq.StringArray{"compliance_officer"},
			StandardSLAHours:         48,
			EscalationThresholdHours: 8,
			CanSkip:                  true,
			AutoApprovalRules:        json.RawMessage(`{"priority_at_most":"low"}`),
		},
		{
			DocumentType:             docType,
			StageNumber:              3,
			StageName:                "Manager Approval",
			RequiredRole:             "manager",
			AllowedRoles:             pq.StringArray{"manager", "senior_manager"},
			StandardSLAHours:         48,
			EscalationThresholdHours: 8,
			IsRequired:               true,
		},
		{
			DocumentType:             docType,
			StageNumber:              4,
			StageName:                "Executive Sign-off",
			RequiredRole:             "director",
			AllowedRoles:             pq.StringArray{"director"},
			StandardSLAHours:         24,
			EscalationThresholdHours: 2,
			IsRequired:               true,
		},
	}
}

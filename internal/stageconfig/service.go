package stageconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/approval"
)

// ValidationError reports why a proposed stage sequence was refused.
type ValidationError struct {
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid stage configuration: %d problem(s)", len(e.Problems))
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListTypes(ctx context.Context) ([]approval.DocumentType, error) {
	return s.repo.ListTypes(ctx)
}

func (s *Service) GetStages(ctx context.Context, docType approval.DocumentType) ([]approval.StageConfiguration, error) {
	return s.repo.ListByType(ctx, docType)
}

// ReplaceStages validates and stores a complete stage sequence for one
// document type.
func (s *Service) ReplaceStages(ctx context.Context, docType approval.DocumentType, stages []approval.StageConfiguration) error {
	if err := validateSequence(stages); err != nil {
		return err
	}
	for i := range stages {
		stages[i].DocumentType = docType
	}
	return s.repo.ReplaceStages(ctx, docType, stages)
}

// validateSequence checks what the engine assumes about configuration: stage
// numbers run 1..n without gaps, SLAs are positive, and auto-approval rules
// parse. All problems are reported at once.
func validateSequence(stages []approval.StageConfiguration) error {
	var problems []string
	if len(stages) == 0 {
		problems = append(problems, "at least one stage is required")
	}

	seen := make(map[int]bool, len(stages))
	for _, stage := range stages {
		prefix := fmt.Sprintf("stage %d", stage.StageNumber)
		if stage.StageNumber < 1 {
			problems = append(problems, prefix+": stage_number must be at least 1")
			continue
		}
		if seen[stage.StageNumber] {
			problems = append(problems, prefix+": duplicate stage_number")
		}
		seen[stage.StageNumber] = true
		if stage.StageName == "" {
			problems = append(problems, prefix+": stage_name is required")
		}
		if stage.RequiredRole == "" {
			problems = append(problems, prefix+": required_role is required")
		}
		if stage.StandardSLAHours <= 0 {
			problems = append(problems, prefix+": standard_sla_hours must be positive")
		}
		if stage.EscalationThresholdHours < 0 {
			problems = append(problems, prefix+": escalation_threshold_hours cannot be negative")
		}
		if stage.IsRequired && stage.CanSkip {
			problems = append(problems, prefix+": a required stage cannot also be skippable")
		}
		if len(stage.AutoApprovalRules) > 0 {
			var rule struct {
				PriorityAtMost approval.PriorityLevel `json:"priority_at_most"`
			}
			if err := json.Unmarshal(stage.AutoApprovalRules, &rule); err != nil {
				problems = append(problems, prefix+": auto_approval_rules is not valid JSON")
			} else if rule.PriorityAtMost != "" && !rule.PriorityAtMost.Valid() {
				problems = append(problems, prefix+": auto_approval_rules names an unknown priority")
			}
		}
	}
	for n := 1; n <= len(seen); n++ {
		if !seen[n] {
			problems = append(problems, fmt.Sprintf("stage numbers must be contiguous from 1; %d is missing", n))
			break
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

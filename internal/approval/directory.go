package approval

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/documents"
)

// ApproverDirectory resolves the default approver for a stage and the target
// of an SLA-breach escalation. Implemented outside the engine (HR/org data);
// injected so tests can substitute it.
type ApproverDirectory interface {
	ResolveDefault(ctx context.Context, docType DocumentType, stage int) (uuid.UUID, bool, error)
	ResolveEscalationTarget(ctx context.Context, docType DocumentType, stage int, level int) (uuid.UUID, bool, error)
}

// StageKey addresses one stage of one document type's sequence.
type StageKey struct {
	DocumentType DocumentType
	Stage        int
}

// StaticApproverDirectory is a fixed assignment table, typically loaded from
// deployment configuration.
type StaticApproverDirectory struct {
	Defaults    map[StageKey]uuid.UUID
	Escalations map[StageKey]uuid.UUID
}

func NewStaticApproverDirectory() *StaticApproverDirectory {
	return &StaticApproverDirectory{
		Defaults:    make(map[StageKey]uuid.UUID),
		Escalations: make(map[StageKey]uuid.UUID),
	}
}

func (d *StaticApproverDirectory) ResolveDefault(_ context.Context, docType DocumentType, stage int) (uuid.UUID, bool, error) {
	id, ok := d.Defaults[StageKey{docType, stage}]
	return id, ok, nil
}

// ResolveEscalationTarget ignores the escalation level: the static table has
// a single contact per stage, and repeated breaches keep landing on them.
func (d *StaticApproverDirectory) ResolveEscalationTarget(_ context.Context, docType DocumentType, stage int, _ int) (uuid.UUID, bool, error) {
	id, ok := d.Escalations[StageKey{docType, stage}]
	return id, ok, nil
}

// ParseDirectoryTables builds a static directory from configuration maps
// keyed "<DOCUMENT_TYPE>/<stage>" with approver UUID values. Malformed
// entries are returned as bad keys rather than failing the whole table.
func ParseDirectoryTables(defaults, escalations map[string]string) (*StaticApproverDirectory, []string) {
	directory := NewStaticApproverDirectory()
	var bad []string
	load := func(table map[string]string, dest map[StageKey]uuid.UUID) {
		for key, value := range table {
			parts := strings.SplitN(key, "/", 2)
			if len(parts) != 2 {
				bad = append(bad, key)
				continue
			}
			stage, err := strconv.Atoi(parts[1])
			if err != nil || stage < 1 {
				bad = append(bad, key)
				continue
			}
			approver, err := uuid.Parse(value)
			if err != nil {
				bad = append(bad, key)
				continue
			}
			dest[StageKey{DocumentType: DocumentType(parts[0]), Stage: stage}] = approver
		}
	}
	load(defaults, directory.Defaults)
	load(escalations, directory.Escalations)
	return directory, bad
}

// DocumentDirectory answers whether the subject document exists. The portal's
// document CRUD owns the documents table; the engine only checks presence.
type DocumentDirectory interface {
	Exists(ctx context.Context, documentID uuid.UUID) (bool, error)
}

type documentsDirectory struct {
	repo documents.Repository
}

// NewDocumentsDirectory adapts the portal's document repository into the
// engine's existence check.
func NewDocumentsDirectory(repo documents.Repository) DocumentDirectory {
	return &documentsDirectory{repo: repo}
}

func (d *documentsDirectory) Exists(ctx context.Context, documentID uuid.UUID) (bool, error) {
	doc, err := d.repo.GetByID(ctx, documentID)
	if err != nil {
		return false, errStorage("document lookup", err)
	}
	return doc != nil, nil
}

// StaticDocumentDirectory is a fixed document set for tests.
type StaticDocumentDirectory map[uuid.UUID]bool

func (d StaticDocumentDirectory) Exists(_ context.Context, documentID uuid.UUID) (bool, error) {
	return d[documentID], nil
}

package documents

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	TypeContract   DocumentType = "CONTRACT"
	TypePermit     DocumentType = "PERMIT"
	TypeInvoice    DocumentType = "INVOICE"
	TypeSafetyPlan DocumentType = "SAFETY_PLAN"
)

// Document is the portal's document row as the approval engine sees it.
// Upload, versioning and file storage are owned by the document CRUD service.
type Document struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ProjectID    uuid.UUID       `json:"project_id" db:"project_id"`
	Name         string          `json:"name" db:"name"`
	Description  string          `json:"description" db:"description"`
	DocumentType DocumentType    `json:"document_type" db:"document_type"`
	UploadedBy   uuid.UUID       `json:"uploaded_by" db:"uploaded_by"`
	UploadedAt   time.Time       `json:"uploaded_at" db:"uploaded_at"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
}

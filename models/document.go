package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Document status lifecycle: pending -> processing -> ready | failed
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document types accepted by the platform
const (
	DocTypeRulebook = "rulebook"
	DocTypeSetting  = "setting"
	DocTypeNotes    = "notes"
	DocTypeMap      = "map"
	DocTypeImage    = "image"
)

// ValidDocumentType reports whether t is a known document type.
func ValidDocumentType(t string) bool {
	switch t {
	case DocTypeRulebook, DocTypeSetting, DocTypeNotes, DocTypeMap, DocTypeImage:
		return true
	}
	return false
}

// Document represents a user-uploaded campaign artifact. IDs are UUID
// strings. A document exclusively owns its chunks; deleting it cascades.
type Document struct {
	ID                  string   `bson:"_id" json:"id"`
	CampaignID          string   `bson:"campaign_id" json:"campaign_id"`
	Name                string   `bson:"name" json:"name"`
	DocumentType        string   `bson:"document_type" json:"document_type"`
	MimeType            string   `bson:"mime_type" json:"mime_type"`
	FilePath            string   `bson:"file_path" json:"-"`
	FileHash            string   `bson:"file_hash,omitempty" json:"-"`
	FileSize            int64    `bson:"file_size" json:"file_size"`
	Status              string   `bson:"status" json:"status"`
	FailureMessage      string   `bson:"failure_message,omitempty" json:"failure_message,omitempty"`
	Metadata            bson.M   `bson:"metadata,omitempty" json:"metadata,omitempty"`
	ChunkCount          int      `bson:"chunk_count" json:"chunk_count"`
	Tags                []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Progress            int      `bson:"progress" json:"progress"`
	ProgressMessage     string   `bson:"progress_message,omitempty" json:"progress_message,omitempty"`
	EmbeddingsGenerated bool     `bson:"embeddings_generated" json:"embeddings_generated"`
	// ContentCompressed caches the extracted text (brotli) so re-indexing
	// and export do not have to re-parse the source file.
	ContentCompressed []byte     `bson:"content_compressed,omitempty" json:"-"`
	UploadedAt        time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt       *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
}

// UploadResponse is returned after a successful document upload.
type UploadResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

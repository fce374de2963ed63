package models

import "time"

// EmbeddingDimensions is fixed by the chunks schema and its ANN index.
const EmbeddingDimensions = 768

// Chunk is an embedded, searchable segment of one document.
// (document_id, chunk_index) is unique; chunks never outlive their parent.
type Chunk struct {
	ID         string    `bson:"_id" json:"id"`
	DocumentID string    `bson:"document_id" json:"document_id"`
	CampaignID string    `bson:"campaign_id" json:"campaign_id"`
	Content    string    `bson:"content" json:"content"`
	Embedding  []float32 `bson:"embedding,omitempty" json:"-"`
	ChunkIndex int       `bson:"chunk_index" json:"chunk_index"`
	TokenCount int       `bson:"token_count" json:"token_count"`
	PageNumber *int      `bson:"page_number,omitempty" json:"page_number,omitempty"`
	Section    *string   `bson:"section,omitempty" json:"section,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// SearchResult is a transient retrieval hit after score fusion.
// Score is in [0,1].
type SearchResult struct {
	Chunk        Chunk    `json:"chunk"`
	Document     Document `json:"document"`
	Score        float64  `json:"score"`
	VectorScore  float64  `json:"vector_score"`
	KeywordScore float64  `json:"keyword_score"`
}

package models

// ContextSource describes one cited entry of a built context. Citation
// indices are 1-based and contiguous across the included entries.
type ContextSource struct {
	CitationIndex  int     `json:"citation_index"`
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	DocumentType   string  `json:"document_type"`
	PageNumber     *int    `json:"page_number,omitempty"`
	Section        *string `json:"section,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// BuiltContext is the prompt context assembled under a token budget.
type BuiltContext struct {
	ContextText     string          `json:"context_text"`
	Sources         []ContextSource `json:"sources"`
	ChunksUsed      int             `json:"chunks_used"`
	EstimatedTokens int             `json:"estimated_tokens"`
}

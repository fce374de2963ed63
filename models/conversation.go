package models

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a question/answer thread within a campaign.
type Conversation struct {
	ID         string    `bson:"_id" json:"id"`
	CampaignID string    `bson:"campaign_id" json:"campaign_id"`
	Title      string    `bson:"title,omitempty" json:"title,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// Message is one turn of a conversation. Assistant messages carry the
// sources and confidence computed when they were generated.
type Message struct {
	ID             string          `bson:"_id" json:"id"`
	ConversationID string          `bson:"conversation_id" json:"conversation_id"`
	CampaignID     string          `bson:"campaign_id" json:"campaign_id"`
	Role           string          `bson:"role" json:"role"`
	Content        string          `bson:"content" json:"content"`
	Sources        []ContextSource `bson:"sources,omitempty" json:"sources,omitempty"`
	Confidence     *float64        `bson:"confidence,omitempty" json:"confidence,omitempty"`
	Timestamp      time.Time       `bson:"timestamp" json:"timestamp"`
}

// AnswerSource is the citation record exposed on the query API.
type AnswerSource struct {
	CitationIndex int     `json:"citation_index"`
	DocumentID    string  `json:"document_id"`
	DocumentName  string  `json:"document_name"`
	DocumentType  string  `json:"document_type"`
	PageNumber    *int    `json:"page_number,omitempty"`
	Section       *string `json:"section,omitempty"`
}

// Confidence labels exposed on the query API.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ConfidenceLabel maps an internal confidence score to the public label.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// QueryRequest is the body of POST /campaigns/:id/query.
type QueryRequest struct {
	Query          string        `json:"query" binding:"required,min=1,max=2000"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Filters        *QueryFilters `json:"filters,omitempty"`
}

// QueryFilters narrow retrieval to a subset of the campaign's documents.
type QueryFilters struct {
	DocumentTypes []string `json:"document_types,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
}

// QueryResponse is the JSON answer envelope.
type QueryResponse struct {
	Answer         string         `json:"answer"`
	Sources        []AnswerSource `json:"sources"`
	Confidence     string         `json:"confidence"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

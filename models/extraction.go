package models

import "go.mongodb.org/mongo-driver/bson"

// PageContent is one extracted PDF page with its character span in the
// concatenated document content.
type PageContent struct {
	PageNumber  int    `json:"pageNumber" bson:"page_number"`
	Content     string `json:"content" bson:"content"`
	StartOffset int    `json:"startOffset" bson:"start_offset"`
	EndOffset   int    `json:"endOffset" bson:"end_offset"`
}

// Section is a markdown region delimited by ATX headings. Content
// before the first heading is carried as a synthetic level-0 section.
type Section struct {
	Heading   string `json:"heading" bson:"heading"`
	Level     int    `json:"level" bson:"level"`
	Content   string `json:"content" bson:"content"`
	StartLine int    `json:"startLine" bson:"start_line"`
	EndLine   int    `json:"endLine" bson:"end_line"`
}

// ExtractedContent is the processor output handed to the chunker.
type ExtractedContent struct {
	Content          string
	Pages            []PageContent
	Sections         []Section
	Metadata         bson.M
	HasExtractedText bool
}

package services

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.mongodb.org/mongo-driver/bson"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

// TextProcessor handles plain-text and markdown documents. Markdown
// input is split into ordered heading sections for semantic chunking.
type TextProcessor struct {
	config  *config.Config
	storage *FileStorageManager
	parser  goldmark.Markdown
}

func NewTextProcessor(cfg *config.Config, storage *FileStorageManager) *TextProcessor {
	return &TextProcessor{
		config:  cfg,
		storage: storage,
		parser:  goldmark.New(),
	}
}

func (p *TextProcessor) Process(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCancelled, "extraction aborted", err)
	}

	raw, err := p.storage.Read(doc.FilePath)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyFile, "stored file is empty")
	}
	if !utf8.Valid(raw) {
		return nil, apperrors.New(apperrors.CodeParseError, "file is not valid UTF-8 text")
	}

	content := normalizeNewlines(string(raw))
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.New(apperrors.CodeEmptyContent, "file contains no text")
	}

	extracted := &models.ExtractedContent{
		Content:          content,
		Metadata:         bson.M{"character_count": len(content)},
		HasExtractedText: true,
	}

	if isMarkdownMime(doc.MimeType) {
		extracted.Sections = p.parseSections(content)
		extracted.Metadata["section_count"] = len(extracted.Sections)
	}
	return extracted, nil
}

func isMarkdownMime(mimeType string) bool {
	switch mimeType {
	case "text/markdown", "text/x-markdown":
		return true
	}
	return false
}

type headingMark struct {
	byteStart int
	level     int
	title     string
}

// parseSections walks the goldmark AST collecting ATX headings (levels
// 1 to 6) and slices the source into ordered sections. Content before
// the first heading becomes a synthetic level-0 section.
func (p *TextProcessor) parseSections(content string) []models.Section {
	source := []byte(content)
	lineStarts := buildLineStarts(source)

	root := p.parser.Parser().Parse(text.NewReader(source))

	var headings []headingMark
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		// Rewind to the start of the heading line so the "#" marker is
		// included in the section content.
		start := lineStartBefore(lineStarts, lines.At(0).Start)
		headings = append(headings, headingMark{
			byteStart: start,
			level:     heading.Level,
			title:     strings.TrimSpace(string(heading.Text(source))),
		})
		return ast.WalkSkipChildren, nil
	})

	var sections []models.Section
	appendSection := func(heading string, level, start, end int) {
		body := strings.TrimRight(string(source[start:end]), "\n")
		if strings.TrimSpace(body) == "" {
			return
		}
		sections = append(sections, models.Section{
			Heading:   heading,
			Level:     level,
			Content:   body,
			StartLine: lineOf(lineStarts, start),
			EndLine:   lineOf(lineStarts, start+len(body)-1),
		})
	}

	if len(headings) == 0 {
		appendSection("", 0, 0, len(source))
		return sections
	}

	if headings[0].byteStart > 0 {
		appendSection("", 0, 0, headings[0].byteStart)
	}
	for i, h := range headings {
		end := len(source)
		if i+1 < len(headings) {
			end = headings[i+1].byteStart
		}
		appendSection(h.title, h.level, h.byteStart, end)
	}
	return sections
}

// buildLineStarts returns the byte offset of the first character of
// each line.
func buildLineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' && i+1 < len(source) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineOf maps a byte offset to its 1-based line number.
func lineOf(lineStarts []int, offset int) int {
	idx := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })
	return idx
}

func lineStartBefore(lineStarts []int, offset int) int {
	idx := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })
	return lineStarts[idx-1]
}

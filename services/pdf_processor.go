package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.mongodb.org/mongo-driver/bson"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

const (
	// defaultPageDelimiter joins extracted pages; {n} is replaced with
	// the page number so chunk text keeps a visible page anchor.
	defaultPageDelimiter = "\n\n--- PAGE {n} ---\n\n"

	// Pages averaging fewer characters than this are treated as
	// scanned images with no extractable text layer.
	scannedPageThreshold = 50
)

// PDFProcessor extracts per-page text and metadata from stored PDFs.
type PDFProcessor struct {
	config        *config.Config
	storage       *FileStorageManager
	pageDelimiter string
}

func NewPDFProcessor(cfg *config.Config, storage *FileStorageManager) *PDFProcessor {
	return &PDFProcessor{
		config:        cfg,
		storage:       storage,
		pageDelimiter: defaultPageDelimiter,
	}
}

// Process reads the stored file and returns page-addressed content.
// Page character offsets reference the concatenated Content string so
// chunk positions can be mapped back to pages.
func (p *PDFProcessor) Process(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCancelled, "extraction aborted", err)
	}

	content, err := p.storage.Read(doc.FilePath)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyFile, "stored PDF is empty")
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypted") {
			return nil, apperrors.Wrap(apperrors.CodeEncryptedPDF, "PDF is password protected", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeInvalidPDF, "failed to parse PDF", err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyFile, "PDF contains no pages")
	}

	var builder strings.Builder
	pages := make([]models.PageContent, 0, numPages)
	totalChars := 0

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCancelled, "extraction aborted", err)
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			fmt.Printf("Warning: failed to extract text from page %d: %v\n", i, err)
			continue
		}
		text = normalizeNewlines(text)

		if builder.Len() > 0 {
			builder.WriteString(strings.ReplaceAll(p.pageDelimiter, "{n}", fmt.Sprintf("%d", i)))
		}
		start := builder.Len()
		builder.WriteString(text)

		pages = append(pages, models.PageContent{
			PageNumber:  i,
			Content:     text,
			StartOffset: start,
			EndOffset:   builder.Len(),
		})
		totalChars += len(text)
	}

	if len(pages) == 0 {
		return nil, apperrors.New(apperrors.CodeParseError, "no text could be extracted from any page")
	}

	hasText := totalChars/numPages >= scannedPageThreshold

	metadata := p.extractInfoDict(reader)
	metadata["page_count"] = numPages
	metadata["has_extracted_text"] = hasText

	return &models.ExtractedContent{
		Content:          builder.String(),
		Pages:            pages,
		Metadata:         metadata,
		HasExtractedText: hasText,
	}, nil
}

// extractInfoDict pulls title, author and dates from the PDF Info
// dictionary when present.
func (p *PDFProcessor) extractInfoDict(reader *pdf.Reader) bson.M {
	metadata := bson.M{}

	defer func() {
		// The info dictionary in malformed PDFs can panic the parser.
		recover()
	}()

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return metadata
	}

	if title := info.Key("Title").Text(); title != "" {
		metadata["title"] = title
	}
	if author := info.Key("Author").Text(); author != "" {
		metadata["author"] = author
	}
	if creator := info.Key("Creator").Text(); creator != "" {
		metadata["creator"] = creator
	}
	if created, ok := parsePDFDate(info.Key("CreationDate").Text()); ok {
		metadata["created_at"] = created
	}
	if modified, ok := parsePDFDate(info.Key("ModDate").Text()); ok {
		metadata["modified_at"] = modified
	}
	return metadata
}

// parsePDFDate decodes the PDF date format D:YYYYMMDDHHmmSS with an
// optional timezone suffix, which is ignored.
func parsePDFDate(raw string) (time.Time, bool) {
	raw = strings.TrimPrefix(raw, "D:")
	if len(raw) < 8 {
		return time.Time{}, false
	}
	digits := raw
	for i, r := range raw {
		if r < '0' || r > '9' {
			digits = raw[:i]
			break
		}
	}
	layouts := []string{"20060102150405", "200601021504", "2006010215", "20060102"}
	for _, layout := range layouts {
		if len(digits) == len(layout) {
			t, err := time.Parse(layout, digits)
			if err != nil {
				return time.Time{}, false
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/models"
)

const (
	documentsSheet = "Documents"
	qaSheet        = "Q&A History"
)

// ExportService produces an xlsx workbook snapshot of one campaign:
// its document inventory and its question/answer history.
type ExportService struct {
	documents     *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewExportService(documents, conversations, messages *mongo.Collection) *ExportService {
	return &ExportService{
		documents:     documents,
		conversations: conversations,
		messages:      messages,
	}
}

// ExportCampaign builds the workbook in memory and returns its bytes
// with a suggested filename.
func (es *ExportService) ExportCampaign(ctx context.Context, campaignID string) ([]byte, string, error) {
	docs, err := es.loadDocuments(ctx, campaignID)
	if err != nil {
		return nil, "", err
	}
	turns, err := es.loadHistory(ctx, campaignID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close workbook", "error", err)
		}
	}()

	if err := es.writeDocumentsSheet(f, docs); err != nil {
		return nil, "", err
	}
	if err := es.writeHistorySheet(f, turns); err != nil {
		return nil, "", err
	}
	// Drop the default sheet created by excelize.
	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeStorageError, "failed to serialize workbook", err)
	}

	filename := fmt.Sprintf("campaign-%s-%s.xlsx", campaignID, time.Now().Format("2006-01-02"))
	return buf.Bytes(), filename, nil
}

func (es *ExportService) loadDocuments(ctx context.Context, campaignID string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: 1}})
	cursor, err := es.documents.Find(ctx, bson.M{"campaign_id": campaignID}, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to load documents", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to decode documents", err)
	}
	return docs, nil
}

// qaTurn pairs a user question with the assistant answer that followed
// it in the same conversation.
type qaTurn struct {
	ConversationID string
	Question       string
	Answer         string
	Confidence     string
	Sources        string
	AskedAt        time.Time
}

func (es *ExportService) loadHistory(ctx context.Context, campaignID string) ([]qaTurn, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "conversation_id", Value: 1},
		{Key: "timestamp", Value: 1},
	})
	cursor, err := es.messages.Find(ctx, bson.M{"campaign_id": campaignID}, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to load messages", err)
	}
	var msgs []models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to decode messages", err)
	}

	var turns []qaTurn
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != models.RoleUser {
			continue
		}
		turn := qaTurn{
			ConversationID: msgs[i].ConversationID,
			Question:       msgs[i].Content,
			AskedAt:        msgs[i].Timestamp,
		}
		if i+1 < len(msgs) &&
			msgs[i+1].Role == models.RoleAssistant &&
			msgs[i+1].ConversationID == msgs[i].ConversationID {
			turn.Answer = msgs[i+1].Content
			if msgs[i+1].Confidence != nil {
				turn.Confidence = models.ConfidenceLabel(*msgs[i+1].Confidence)
			}
			turn.Sources = formatSourceList(msgs[i+1].Sources)
			i++
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func formatSourceList(sources []models.ContextSource) string {
	if len(sources) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		ref := s.DocumentName
		if s.PageNumber != nil {
			ref = fmt.Sprintf("%s (p. %d)", ref, *s.PageNumber)
		}
		parts = append(parts, ref)
	}
	return strings.Join(parts, "; ")
}

func (es *ExportService) writeDocumentsSheet(f *excelize.File, docs []models.Document) error {
	index, err := f.NewSheet(documentsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Name", "Type", "Status", "Chunks", "Size (bytes)", "Tags", "Uploaded At", "Processed At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(documentsSheet, cell, header)
	}

	for rowIdx, doc := range docs {
		row := rowIdx + 2
		f.SetCellValue(documentsSheet, fmt.Sprintf("A%d", row), doc.Name)
		f.SetCellValue(documentsSheet, fmt.Sprintf("B%d", row), doc.DocumentType)
		f.SetCellValue(documentsSheet, fmt.Sprintf("C%d", row), doc.Status)
		f.SetCellValue(documentsSheet, fmt.Sprintf("D%d", row), doc.ChunkCount)
		f.SetCellValue(documentsSheet, fmt.Sprintf("E%d", row), doc.FileSize)
		f.SetCellValue(documentsSheet, fmt.Sprintf("F%d", row), strings.Join(doc.Tags, ", "))
		f.SetCellValue(documentsSheet, fmt.Sprintf("G%d", row), doc.UploadedAt.Format("2006-01-02 15:04:05"))
		if doc.ProcessedAt != nil {
			f.SetCellValue(documentsSheet, fmt.Sprintf("H%d", row), doc.ProcessedAt.Format("2006-01-02 15:04:05"))
		}
	}

	f.SetColWidth(documentsSheet, "A", "A", 40)
	f.SetColWidth(documentsSheet, "F", "H", 22)
	return nil
}

func (es *ExportService) writeHistorySheet(f *excelize.File, turns []qaTurn) error {
	if _, err := f.NewSheet(qaSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headers := []string{
		"Conversation", "Question", "Answer", "Confidence", "Sources", "Asked At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(qaSheet, cell, header)
	}

	for rowIdx, turn := range turns {
		row := rowIdx + 2
		f.SetCellValue(qaSheet, fmt.Sprintf("A%d", row), turn.ConversationID)
		f.SetCellValue(qaSheet, fmt.Sprintf("B%d", row), turn.Question)
		f.SetCellValue(qaSheet, fmt.Sprintf("C%d", row), turn.Answer)
		f.SetCellValue(qaSheet, fmt.Sprintf("D%d", row), turn.Confidence)
		f.SetCellValue(qaSheet, fmt.Sprintf("E%d", row), turn.Sources)
		f.SetCellValue(qaSheet, fmt.Sprintf("F%d", row), turn.AskedAt.Format("2006-01-02 15:04:05"))
	}

	f.SetColWidth(qaSheet, "B", "C", 60)
	f.SetColWidth(qaSheet, "E", "F", 30)
	return nil
}

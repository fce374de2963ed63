package services

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lorekeeper-platform/internal/ai"
	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/models"
)

// QueryService orchestrates the full question path: rewrite, embed,
// hybrid search, optional rerank, context build, answer generation and
// conversation persistence.
type QueryService struct {
	config        *config.Config
	embedder      ai.EmbeddingClient
	search        *HybridSearchService
	rewriter      *QueryRewriter
	reranker      *Reranker
	builder       *ContextBuilder
	generator     *ResponseGenerator
	documents     *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	metrics       *telemetry.Metrics
}

func NewQueryService(
	cfg *config.Config,
	embedder ai.EmbeddingClient,
	client llm.Client,
	search *HybridSearchService,
	documents, conversations, messages *mongo.Collection,
	metrics *telemetry.Metrics,
) *QueryService {
	return &QueryService{
		config:        cfg,
		embedder:      embedder,
		search:        search,
		rewriter:      NewQueryRewriter(client),
		reranker:      NewReranker(cfg, client),
		builder:       NewContextBuilder(cfg),
		generator:     NewResponseGenerator(client),
		documents:     documents,
		conversations: conversations,
		messages:      messages,
		metrics:       metrics,
	}
}

// maxQueryRunes bounds query length in characters, not bytes, so
// multibyte text is not penalised.
const maxQueryRunes = 2000

func validateQuery(query string) error {
	if n := utf8.RuneCountInString(query); n == 0 || n > maxQueryRunes {
		return apperrors.New(apperrors.CodeInvalidQuery, "query must be between 1 and 2000 characters")
	}
	return nil
}

// emptyAnswer is returned when filters provably match nothing; the
// LLM is never invoked.
func emptyAnswer(conversationID string) *models.QueryResponse {
	return &models.QueryResponse{
		Answer:         "I don't have enough information to answer this. No campaign documents match the requested filters.",
		Sources:        []models.AnswerSource{},
		Confidence:     models.ConfidenceLow,
		ConversationID: conversationID,
	}
}

func (s *QueryService) Answer(ctx context.Context, campaignID string, req models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	confidence := "error"
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordQuery(time.Since(start).Seconds(), confidence)
		}
	}()

	if err := validateQuery(req.Query); err != nil {
		return nil, err
	}

	history, err := s.loadHistory(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	question := s.rewriter.Rewrite(ctx, req.Query, history)

	searchOpts, empty, err := s.resolveFilters(ctx, campaignID, req.Filters)
	if err != nil {
		return nil, err
	}
	if empty {
		confidence = models.ConfidenceLow
		return emptyAnswer(req.ConversationID), nil
	}

	embedding, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := s.search.Search(ctx, question, embedding, campaignID, searchOpts)
	if err != nil {
		return nil, err
	}

	if s.config.RerankEnabled && len(results) > 1 {
		reranked, err := s.reranker.Rerank(ctx, question, results)
		if err == nil {
			results = reranked
		}
		// RERANK_FAILED falls back to fused order.
	}

	built := s.builder.Build(results, ContextBuilderOptions{
		MaxTokens:     s.config.ContextMaxTokens,
		AdaptiveRatio: s.config.AdaptiveRatio,
	})

	answer, err := s.generator.Generate(ctx, req.Query, built, history)
	if err != nil {
		return nil, err
	}
	confidence = models.ConfidenceLabel(answer.Confidence)
	if s.metrics != nil && answer.Usage != nil {
		s.metrics.RecordLLMTokens(int64(answer.Usage.PromptTokens+answer.Usage.CompletionTokens), s.config.LLMProvider)
	}

	conversationID, err := s.persistTurn(ctx, campaignID, req, answer)
	if err != nil {
		// Persistence failures do not void a generated answer.
		conversationID = req.ConversationID
	}

	return &models.QueryResponse{
		Answer:         answer.Answer,
		Sources:        toAnswerSources(answer.Sources),
		Confidence:     confidence,
		ConversationID: conversationID,
	}, nil
}

// Ground builds retrieval context for the generation surface: embed,
// search, build. No rewriting or reranking.
func (s *QueryService) Ground(ctx context.Context, campaignID, query string) (*models.BuiltContext, error) {
	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.search.Search(ctx, query, embedding, campaignID, SearchOptions{})
	if err != nil {
		return nil, err
	}
	return s.builder.Build(results, ContextBuilderOptions{
		MaxTokens:     s.config.ContextMaxTokens,
		AdaptiveRatio: s.config.AdaptiveRatio,
	}), nil
}

// resolveFilters maps tag filters onto document IDs. The bool result
// reports a provably empty scope that should short-circuit.
func (s *QueryService) resolveFilters(ctx context.Context, campaignID string, filters *models.QueryFilters) (SearchOptions, bool, error) {
	opts := SearchOptions{Limit: s.config.SearchLimit}
	if filters == nil {
		return opts, false, nil
	}
	opts.DocumentTypes = filters.DocumentTypes
	opts.DocumentIDs = filters.DocumentIDs

	if len(filters.Tags) == 0 {
		return opts, false, nil
	}

	cursor, err := s.documents.Find(ctx, bson.M{
		"campaign_id": campaignID,
		"tags":        bson.M{"$in": filters.Tags},
	})
	if err != nil {
		return opts, false, apperrors.Wrap(apperrors.CodeSearchFailed, "tag lookup failed", err)
	}
	defer cursor.Close(ctx)

	var tagged []string
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return opts, false, apperrors.Wrap(apperrors.CodeSearchFailed, "document decode failed", err)
		}
		tagged = append(tagged, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return opts, false, apperrors.Wrap(apperrors.CodeSearchFailed, "tag lookup failed", err)
	}

	if len(tagged) == 0 {
		return opts, true, nil
	}
	if len(opts.DocumentIDs) == 0 {
		opts.DocumentIDs = tagged
		return opts, false, nil
	}
	intersection := intersect(tagged, opts.DocumentIDs)
	opts.DocumentIDs = intersection
	return opts, len(intersection) == 0, nil
}

func (s *QueryService) loadHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	if conversationID == "" || s.messages == nil {
		return nil, nil
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(maxHistoryMessages)
	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, findOpts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailed, "history lookup failed", err)
	}
	defer cursor.Close(ctx)

	var history []models.Message
	for cursor.Next(ctx) {
		var m models.Message
		if err := cursor.Decode(&m); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailed, "message decode failed", err)
		}
		history = append(history, m)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailed, "history lookup failed", err)
	}

	// Restore chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (s *QueryService) persistTurn(ctx context.Context, campaignID string, req models.QueryRequest, answer *GeneratedAnswer) (string, error) {
	if s.messages == nil || s.conversations == nil {
		return req.ConversationID, nil
	}

	now := time.Now()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
		if _, err := s.conversations.InsertOne(ctx, models.Conversation{
			ID:         conversationID,
			CampaignID: campaignID,
			Title:      truncateTitle(req.Query),
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return req.ConversationID, apperrors.Wrap(apperrors.CodeStorageFailed, "conversation create failed", err)
		}
	} else {
		s.conversations.UpdateOne(ctx,
			bson.M{"_id": conversationID},
			bson.M{"$set": bson.M{"updated_at": now}})
	}

	answerConfidence := answer.Confidence
	docs := []interface{}{
		models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			CampaignID:     campaignID,
			Role:           models.RoleUser,
			Content:        req.Query,
			Timestamp:      now,
		},
		models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			CampaignID:     campaignID,
			Role:           models.RoleAssistant,
			Content:        answer.Answer,
			Sources:        answer.Sources,
			Confidence:     &answerConfidence,
			Timestamp:      now.Add(time.Millisecond),
		},
	}
	if _, err := s.messages.InsertMany(ctx, docs); err != nil {
		return conversationID, apperrors.Wrap(apperrors.CodeStorageFailed, "message persist failed", err)
	}
	return conversationID, nil
}

func truncateTitle(query string) string {
	const max = 80
	if len(query) <= max {
		return query
	}
	return query[:max]
}

func toAnswerSources(sources []models.ContextSource) []models.AnswerSource {
	out := make([]models.AnswerSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, models.AnswerSource{
			CitationIndex: src.CitationIndex,
			DocumentID:    src.DocumentID,
			DocumentName:  src.DocumentName,
			DocumentType:  src.DocumentType,
			PageNumber:    src.PageNumber,
			Section:       src.Section,
		})
	}
	return out
}

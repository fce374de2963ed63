package services

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

// SearchOptions scope one hybrid search call.
type SearchOptions struct {
	Limit         int
	DocumentIDs   []string
	DocumentTypes []string
}

type scoredChunk struct {
	Chunk models.Chunk
	Score float64
}

// chunkSearcher abstracts the two retrieval legs so fusion logic can
// be tested without a live search index.
type chunkSearcher interface {
	VectorSearch(ctx context.Context, embedding []float32, campaignID string, documentIDs []string, limit int) ([]scoredChunk, error)
	KeywordSearch(ctx context.Context, query string, campaignID string, documentIDs []string, limit int) ([]scoredChunk, error)
}

// HybridSearchService fuses vector and lexical retrieval over the
// campaign's chunks.
type HybridSearchService struct {
	config    *config.Config
	searcher  chunkSearcher
	documents *mongo.Collection
}

func NewHybridSearchService(cfg *config.Config, chunks, documents *mongo.Collection) *HybridSearchService {
	return &HybridSearchService{
		config:    cfg,
		searcher:  &mongoChunkSearcher{config: cfg, chunks: chunks},
		documents: documents,
	}
}

// Search runs both retrieval legs, fuses scores and attaches parent
// documents. Type filters resolve to a document ID set first; an empty
// resolution short-circuits to an empty result.
func (s *HybridSearchService) Search(ctx context.Context, queryText string, queryEmbedding []float32, campaignID string, opts SearchOptions) ([]models.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.config.SearchLimit
	}

	documentIDs, empty, err := s.resolveDocumentFilter(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}
	if empty {
		return []models.SearchResult{}, nil
	}

	// Fetch more than the final limit from each leg so fusion has
	// candidates that only one leg surfaced.
	legLimit := limit * 2

	vectorHits, err := s.searcher.VectorSearch(ctx, queryEmbedding, campaignID, documentIDs, legLimit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSearchFailed, "vector search failed", err)
	}
	keywordHits, err := s.searcher.KeywordSearch(ctx, queryText, campaignID, documentIDs, legLimit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSearchFailed, "keyword search failed", err)
	}

	fused := fuseResults(vectorHits, keywordHits, s.config.VectorWeight, s.config.KeywordWeight, limit)

	if err := s.attachDocuments(ctx, fused); err != nil {
		return nil, err
	}
	return fused, nil
}

// fuseResults merges the two legs with a weighted sum, deduplicating
// by chunk ID and keeping the max per-leg score. Ties break on higher
// vector score, then on later chunk index.
func fuseResults(vectorHits, keywordHits []scoredChunk, vectorWeight, keywordWeight float64, limit int) []models.SearchResult {
	byID := make(map[string]*models.SearchResult)
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	upsert := func(chunk models.Chunk) *models.SearchResult {
		if r, ok := byID[chunk.ID]; ok {
			return r
		}
		r := &models.SearchResult{Chunk: chunk}
		byID[chunk.ID] = r
		order = append(order, chunk.ID)
		return r
	}

	for _, hit := range vectorHits {
		r := upsert(hit.Chunk)
		if hit.Score > r.VectorScore {
			r.VectorScore = hit.Score
		}
	}
	for _, hit := range keywordHits {
		r := upsert(hit.Chunk)
		if hit.Score > r.KeywordScore {
			r.KeywordScore = hit.Score
		}
	}

	results := make([]models.SearchResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Score = vectorWeight*r.VectorScore + keywordWeight*r.KeywordScore
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		return results[i].Chunk.ChunkIndex > results[j].Chunk.ChunkIndex
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// resolveDocumentFilter turns type and tag scoping into a concrete
// document ID set. The bool result reports a provably empty scope.
func (s *HybridSearchService) resolveDocumentFilter(ctx context.Context, campaignID string, opts SearchOptions) ([]string, bool, error) {
	if len(opts.DocumentTypes) == 0 {
		return opts.DocumentIDs, false, nil
	}

	filter := bson.M{
		"campaign_id":   campaignID,
		"document_type": bson.M{"$in": opts.DocumentTypes},
	}
	cursor, err := s.documents.Find(ctx, filter)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeSearchFailed, "document type lookup failed", err)
	}
	defer cursor.Close(ctx)

	var matched []string
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeSearchFailed, "document decode failed", err)
		}
		matched = append(matched, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeSearchFailed, "document type lookup failed", err)
	}

	if len(opts.DocumentIDs) == 0 {
		return matched, len(matched) == 0, nil
	}
	intersection := intersect(matched, opts.DocumentIDs)
	return intersection, len(intersection) == 0, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range b {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (s *HybridSearchService) attachDocuments(ctx context.Context, results []models.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	seen := make(map[string]struct{})
	for _, r := range results {
		if _, ok := seen[r.Chunk.DocumentID]; !ok {
			seen[r.Chunk.DocumentID] = struct{}{}
			ids = append(ids, r.Chunk.DocumentID)
		}
	}

	cursor, err := s.documents.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSearchFailed, "document fetch failed", err)
	}
	defer cursor.Close(ctx)

	docs := make(map[string]models.Document)
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return apperrors.Wrap(apperrors.CodeSearchFailed, "document decode failed", err)
		}
		docs[doc.ID] = doc
	}
	if err := cursor.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeSearchFailed, "document fetch failed", err)
	}

	for i := range results {
		if doc, ok := docs[results[i].Chunk.DocumentID]; ok {
			results[i].Document = doc
		}
	}
	return nil
}

// mongoChunkSearcher runs the two legs as Atlas Search aggregations.
type mongoChunkSearcher struct {
	config *config.Config
	chunks *mongo.Collection
}

func (m *mongoChunkSearcher) VectorSearch(ctx context.Context, embedding []float32, campaignID string, documentIDs []string, limit int) ([]scoredChunk, error) {
	filter := bson.M{"campaign_id": campaignID}
	if len(documentIDs) > 0 {
		filter["document_id"] = bson.M{"$in": documentIDs}
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: bson.M{
			"index":         m.config.VectorIndexName,
			"path":          "embedding",
			"queryVector":   embedding,
			"numCandidates": limit * 10,
			"limit":         limit,
			"filter":        filter,
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	return m.runPipeline(ctx, pipeline, false)
}

func (m *mongoChunkSearcher) KeywordSearch(ctx context.Context, query string, campaignID string, documentIDs []string, limit int) ([]scoredChunk, error) {
	must := []bson.M{{
		"text": bson.M{"query": query, "path": "content"},
	}}
	filterClauses := []bson.M{{
		"equals": bson.M{"path": "campaign_id", "value": campaignID},
	}}
	if len(documentIDs) > 0 {
		filterClauses = append(filterClauses, bson.M{
			"in": bson.M{"path": "document_id", "value": documentIDs},
		})
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$search", Value: bson.M{
			"index": m.config.SearchIndexName,
			"compound": bson.M{
				"must":   must,
				"filter": filterClauses,
			},
		}}},
		bson.D{{Key: "$limit", Value: limit}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "searchScore"},
		}}},
	}

	// Lucene scores are unbounded; normalise against the batch max so
	// fusion weights stay meaningful.
	return m.runPipeline(ctx, pipeline, true)
}

type scoredChunkDoc struct {
	models.Chunk `bson:",inline"`
	SearchScore  float64 `bson:"search_score"`
}

func (m *mongoChunkSearcher) runPipeline(ctx context.Context, pipeline mongo.Pipeline, normalize bool) ([]scoredChunk, error) {
	cursor, err := m.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var hits []scoredChunk
	maxScore := 0.0
	for cursor.Next(ctx) {
		var doc scoredChunkDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.SearchScore > maxScore {
			maxScore = doc.SearchScore
		}
		hits = append(hits, scoredChunk{Chunk: doc.Chunk, Score: doc.SearchScore})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	if normalize && maxScore > 0 {
		for i := range hits {
			hits[i].Score /= maxScore
		}
	}
	return hits, nil
}

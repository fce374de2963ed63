package services

import (
	"strings"
	"testing"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

func testChunker() *ChunkingService {
	return NewChunkingService(&config.Config{
		ChunkTargetTokens:  128,
		ChunkOverlapTokens: 24,
		ChunkMinTokens:     20,
	})
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 512), 128},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	base := "the quick brown fox"
	for _, suffix := range []string{"", " ", "jumps", strings.Repeat("y", 100)} {
		if EstimateTokens(base) > EstimateTokens(base+suffix) {
			t.Errorf("token estimate decreased after appending %q", suffix)
		}
	}
}

func TestChunkEmptyContent(t *testing.T) {
	s := testChunker()
	for _, content := range []string{"", "   \n\t  "} {
		_, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{})
		if err == nil {
			t.Fatalf("expected error for content %q", content)
		}
		if apperrors.CodeOf(err) != apperrors.CodeEmptyContent {
			t.Errorf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeEmptyContent)
		}
	}
}

func TestFixedSizeChunksAreSubstrings(t *testing.T) {
	s := testChunker()
	content := strings.Repeat("The wizard tower stands on the hill above the village. ", 60)

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if result.Strategy != StrategyFixedSize {
		t.Errorf("strategy = %s", result.Strategy)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(result.Chunks))
	}
	for i, c := range result.Chunks {
		if !strings.Contains(content, c.Content) {
			t.Errorf("chunk %d is not a substring of the input", i)
		}
		if c.Content != content[c.StartOffset:c.EndOffset] {
			t.Errorf("chunk %d offsets do not match its content", i)
		}
		if c.TokenCount != EstimateTokens(c.Content) {
			t.Errorf("chunk %d tokenCount = %d", i, c.TokenCount)
		}
	}
}

func TestFixedSizeOverlapBound(t *testing.T) {
	s := testChunker()
	content := strings.Repeat("Orcs raid the northern farms every winter solstice. ", 80)
	opts := ChunkOptions{FixedSize: FixedSizeOptions{TargetTokens: 64, OverlapTokens: 16, MinChunkTokens: 10}}

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, opts)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	maxOverlap := 16 * 4
	for i := 1; i < len(result.Chunks); i++ {
		prev := result.Chunks[i-1]
		cur := result.Chunks[i]
		overlap := prev.EndOffset - cur.StartOffset
		if overlap > maxOverlap {
			t.Errorf("chunks %d/%d overlap by %d chars, max %d", i-1, i, overlap, maxOverlap)
		}
		if cur.StartOffset <= prev.StartOffset {
			t.Errorf("chunk %d does not advance past chunk %d", i, i-1)
		}
	}
}

func TestFixedSizePrefersParagraphBreaks(t *testing.T) {
	s := testChunker()
	para := strings.Repeat("word ", 96)
	content := para + "\n\n" + para + "\n\n" + para

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{
		FixedSize: FixedSizeOptions{TargetTokens: 128, OverlapTokens: 1, MinChunkTokens: 10},
	})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	// The paragraph break sits inside the backward-search window, so
	// at least one cut should land right after it.
	found := false
	for _, c := range result.Chunks[:len(result.Chunks)-1] {
		if strings.HasSuffix(c.Content, "\n\n") {
			found = true
		}
	}
	if !found {
		t.Error("no cut landed on a paragraph break")
	}
}

func TestFixedSizeShortTailFoldedIntoLastChunk(t *testing.T) {
	s := testChunker()
	// ~128 tokens plus a tiny tail that is below the minimum.
	content := strings.Repeat("a long sentence about dungeon traps. ", 14) + "End."

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{
		FixedSize: FixedSizeOptions{TargetTokens: 128, OverlapTokens: 8, MinChunkTokens: 20},
	})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	last := result.Chunks[len(result.Chunks)-1]
	if !strings.HasSuffix(last.Content, "End.") {
		t.Errorf("tail was not folded into the final chunk: %q", last.Content)
	}
	if EstimateTokens(last.Content) < 20 && len(result.Chunks) > 1 {
		t.Errorf("emitted a stub chunk of %d tokens", EstimateTokens(last.Content))
	}
}

func TestSemanticEmitsSectionHeadings(t *testing.T) {
	s := testChunker()
	sections := []models.Section{
		{Heading: "", Level: 0, Content: "An introduction to the campaign setting that is long enough to stand on its own as a chunk without being merged away."},
		{Heading: "The Northern Reaches", Level: 1, Content: strings.Repeat("Frozen tundra stretches for miles in every direction. ", 4)},
		{Heading: "Notable NPCs", Level: 2, Content: strings.Repeat("Yara the blacksmith forges enchanted weapons for the town guard. ", 4)},
	}
	input := &models.ExtractedContent{
		Content:  sections[0].Content + "\n\n" + sections[1].Content + "\n\n" + sections[2].Content,
		Sections: sections,
	}

	result, err := s.Chunk(input, ChunkOptions{Strategy: StrategySemantic})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if result.Strategy != StrategySemantic {
		t.Errorf("strategy = %s", result.Strategy)
	}
	var headings []string
	for _, c := range result.Chunks {
		if c.Section != nil {
			headings = append(headings, *c.Section)
		}
	}
	if len(headings) == 0 {
		t.Fatal("no chunk carries a section heading")
	}
	joined := strings.Join(headings, "|")
	if !strings.Contains(joined, "The Northern Reaches") {
		t.Errorf("headings = %v", headings)
	}
}

func TestSemanticOversizeSectionFallsBackToFixed(t *testing.T) {
	s := testChunker()
	big := strings.Repeat("Dense lore paragraph about the ancient lich wars. ", 100)
	input := &models.ExtractedContent{
		Content:  big,
		Sections: []models.Section{{Heading: "History", Level: 1, Content: big}},
	}

	result, err := s.Chunk(input, ChunkOptions{
		Strategy:  StrategySemantic,
		Semantic:  SemanticOptions{MaxTokens: 200, MinTokens: 20, MaxHeadingLevel: 3},
		FixedSize: FixedSizeOptions{TargetTokens: 128, OverlapTokens: 24, MinChunkTokens: 20},
	})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("oversize section was not split, got %d chunks", len(result.Chunks))
	}
	for i, c := range result.Chunks {
		if c.Section == nil || *c.Section != "History" {
			t.Errorf("chunk %d lost its heading", i)
		}
	}
}

func TestSemanticWithoutSectionsFallsBack(t *testing.T) {
	s := testChunker()
	result, err := s.Chunk(&models.ExtractedContent{Content: strings.Repeat("plain prose ", 100)}, ChunkOptions{Strategy: StrategySemantic})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if result.Strategy != StrategyFixedSize {
		t.Errorf("strategy = %s, want fallback to %s", result.Strategy, StrategyFixedSize)
	}
}

func TestMarkdownAwareKeepsCodeFenceIntact(t *testing.T) {
	s := testChunker()
	code := "```\n" + strings.Repeat("roll = d20 + modifier\n", 8) + "```\n"
	content := strings.Repeat("Rules prose before the code block. ", 12) + "\n" + code + strings.Repeat("Prose after the block. ", 12)

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{
		Strategy: StrategyMarkdown,
		Markdown: MarkdownOptions{TargetTokens: 128, OverlapTokens: 8, PreserveCodeBlocks: true, PreserveLists: true},
	})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	for i, c := range result.Chunks {
		opens := strings.Count(c.Content, "```")
		if opens%2 != 0 {
			t.Errorf("chunk %d cuts through a code fence", i)
		}
	}
}

func TestMarkdownAwarePromotesHeading(t *testing.T) {
	s := testChunker()
	content := "# Bestiary\n\n" + strings.Repeat("The owlbear hunts at dusk. ", 10)

	result, err := s.Chunk(&models.ExtractedContent{Content: content}, ChunkOptions{Strategy: StrategyMarkdown})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	first := result.Chunks[0]
	if first.Section == nil || *first.Section != "Bestiary" {
		t.Errorf("section = %v, want Bestiary", first.Section)
	}
}

func TestChunkPageResolution(t *testing.T) {
	s := testChunker()
	page1 := strings.Repeat("First page text about goblin ambush tactics. ", 12)
	page2 := strings.Repeat("Second page text about troll regeneration rules. ", 12)
	delim := "\n\n--- PAGE 2 ---\n\n"
	content := page1 + delim + page2

	input := &models.ExtractedContent{
		Content: content,
		Pages: []models.PageContent{
			{PageNumber: 1, Content: page1, StartOffset: 0, EndOffset: len(page1)},
			{PageNumber: 2, Content: page2, StartOffset: len(page1) + len(delim), EndOffset: len(content)},
		},
	}

	result, err := s.Chunk(input, ChunkOptions{})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	for i, c := range result.Chunks {
		if c.PageNumber == nil {
			t.Fatalf("chunk %d has no page", i)
		}
		if *c.PageNumber != 1 && *c.PageNumber != 2 {
			t.Errorf("chunk %d page = %d", i, *c.PageNumber)
		}
	}
	if first := result.Chunks[0]; *first.PageNumber != 1 {
		t.Errorf("first chunk page = %d, want 1", *first.PageNumber)
	}
	last := result.Chunks[len(result.Chunks)-1]
	if *last.PageNumber != 2 {
		t.Errorf("last chunk page = %d, want 2", *last.PageNumber)
	}
}

package services

import (
	"regexp"
	"strings"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

// Chunking strategies.
const (
	StrategyFixedSize = "fixed-size"
	StrategySemantic  = "semantic"
	StrategyMarkdown  = "markdown-aware"
)

// FixedSizeOptions parameterise the default walk-and-cut strategy.
type FixedSizeOptions struct {
	TargetTokens   int
	OverlapTokens  int
	MinChunkTokens int
}

// SemanticOptions parameterise section-based chunking.
type SemanticOptions struct {
	MaxTokens       int
	MinTokens       int
	MaxHeadingLevel int
}

// MarkdownOptions parameterise structure-preserving chunking.
type MarkdownOptions struct {
	TargetTokens       int
	OverlapTokens      int
	PreserveCodeBlocks bool
	PreserveLists      bool
}

// ChunkOptions selects a strategy and its tuning. Zero values fall
// back to configured deployment defaults.
type ChunkOptions struct {
	Strategy  string
	FixedSize FixedSizeOptions
	Semantic  SemanticOptions
	Markdown  MarkdownOptions
}

// ChunkData is one emitted chunk before persistence.
type ChunkData struct {
	Content     string
	StartOffset int
	EndOffset   int
	TokenCount  int
	Section     *string
	PageNumber  *int
}

// ChunkResult is the chunker output for one document.
type ChunkResult struct {
	Chunks             []ChunkData
	Strategy           string
	TotalTokens        int
	AverageChunkTokens int
}

// ChunkingService splits extracted content into embedding-sized units.
type ChunkingService struct {
	config *config.Config
}

func NewChunkingService(cfg *config.Config) *ChunkingService {
	return &ChunkingService{config: cfg}
}

// EstimateTokens approximates token count as ceil(len/4). The value is
// monotonic in input length, which sizing logic relies on.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Chunk splits the extracted content with the selected strategy. PDF
// inputs get page numbers resolved from the processor's page offsets.
func (s *ChunkingService) Chunk(input *models.ExtractedContent, opts ChunkOptions) (*ChunkResult, error) {
	if input == nil || strings.TrimSpace(input.Content) == "" {
		return nil, apperrors.New(apperrors.CodeEmptyContent, "no content to chunk")
	}

	s.applyDefaults(&opts)

	strategy := opts.Strategy
	var chunks []ChunkData
	switch strategy {
	case StrategySemantic:
		if len(input.Sections) == 0 {
			strategy = StrategyFixedSize
			chunks = splitFixedSize(input.Content, 0, opts.FixedSize)
		} else {
			chunks = s.splitSemantic(input.Sections, opts.Semantic, opts.FixedSize)
		}
	case StrategyMarkdown:
		chunks = splitMarkdownAware(input.Content, opts.Markdown)
	case StrategyFixedSize, "":
		strategy = StrategyFixedSize
		chunks = splitFixedSize(input.Content, 0, opts.FixedSize)
	default:
		return nil, apperrors.Newf(apperrors.CodeChunkingFailed, "unknown chunking strategy: %s", opts.Strategy)
	}

	if len(chunks) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyContent, "chunking produced no chunks")
	}

	if len(input.Pages) > 0 {
		resolvePages(chunks, input.Pages)
	}

	total := 0
	for i := range chunks {
		chunks[i].TokenCount = EstimateTokens(chunks[i].Content)
		total += chunks[i].TokenCount
	}

	return &ChunkResult{
		Chunks:             chunks,
		Strategy:           strategy,
		TotalTokens:        total,
		AverageChunkTokens: total / len(chunks),
	}, nil
}

func (s *ChunkingService) applyDefaults(opts *ChunkOptions) {
	if opts.FixedSize.TargetTokens <= 0 {
		opts.FixedSize.TargetTokens = s.config.ChunkTargetTokens
	}
	if opts.FixedSize.OverlapTokens < 0 || opts.FixedSize.OverlapTokens == 0 {
		opts.FixedSize.OverlapTokens = s.config.ChunkOverlapTokens
	}
	if opts.FixedSize.MinChunkTokens <= 0 {
		opts.FixedSize.MinChunkTokens = s.config.ChunkMinTokens
	}
	if opts.Semantic.MaxTokens <= 0 {
		opts.Semantic.MaxTokens = opts.FixedSize.TargetTokens * 2
	}
	if opts.Semantic.MinTokens <= 0 {
		opts.Semantic.MinTokens = opts.FixedSize.MinChunkTokens
	}
	if opts.Semantic.MaxHeadingLevel <= 0 {
		opts.Semantic.MaxHeadingLevel = 3
	}
	if opts.Markdown.TargetTokens <= 0 {
		opts.Markdown.TargetTokens = opts.FixedSize.TargetTokens
	}
	if opts.Markdown.OverlapTokens <= 0 {
		opts.Markdown.OverlapTokens = opts.FixedSize.OverlapTokens
	}
}

// splitFixedSize walks content emitting ~targetTokens chunks with
// overlap. Cuts prefer natural break points found within 10% of the
// target: paragraph break, then line break, then sentence end, then
// word boundary. A short tail is folded into the previous chunk
// instead of emitted as a stub.
func splitFixedSize(content string, base int, opts FixedSizeOptions) []ChunkData {
	targetChars := opts.TargetTokens * 4
	overlapChars := opts.OverlapTokens * 4
	if targetChars <= 0 {
		targetChars = 512
	}

	var chunks []ChunkData
	pos := 0
	n := len(content)
	for pos < n {
		end := pos + targetChars
		if end >= n {
			end = n
		} else {
			end = findBreak(content, pos, end, targetChars/10)
		}

		if end >= n && len(chunks) > 0 && EstimateTokens(content[pos:n]) < opts.MinChunkTokens {
			last := &chunks[len(chunks)-1]
			last.Content = content[last.StartOffset-base : n]
			last.EndOffset = base + n
			break
		}

		chunks = append(chunks, ChunkData{
			Content:     content[pos:end],
			StartOffset: base + pos,
			EndOffset:   base + end,
		})
		if end >= n {
			break
		}

		next := end - overlapChars
		if next <= pos {
			next = end
		}
		pos = next
	}
	return chunks
}

// findBreak seeks backward from end, at most window chars, for the
// best natural cut point. Returns end unchanged when nothing better
// exists.
func findBreak(content string, start, end, window int) int {
	limit := end - window
	if limit <= start {
		limit = start + 1
	}
	if limit >= end {
		return end
	}
	region := content[limit:end]

	if i := strings.LastIndex(region, "\n\n"); i >= 0 {
		return limit + i + 2
	}
	if i := strings.LastIndexByte(region, '\n'); i >= 0 {
		return limit + i + 1
	}
	for i := end - 1; i > limit; i-- {
		c := content[i-1]
		if (c == '.' || c == '!' || c == '?') && (content[i] == ' ' || content[i] == '\n') {
			return i + 1
		}
	}
	if i := strings.LastIndexByte(region, ' '); i >= 0 {
		return limit + i + 1
	}
	return end
}

// splitSemantic emits one chunk per section when it fits, splits
// oversize sections with the fixed-size walk, and accumulates
// undersize sections until they reach the minimum.
func (s *ChunkingService) splitSemantic(sections []models.Section, opts SemanticOptions, fixed FixedSizeOptions) []ChunkData {
	flattened := flattenSections(sections, opts.MaxHeadingLevel)

	var chunks []ChunkData
	var pending strings.Builder
	var pendingHeading string

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := ChunkData{Content: pending.String()}
		if pendingHeading != "" {
			heading := pendingHeading
			chunk.Section = &heading
		}
		chunks = append(chunks, chunk)
		pending.Reset()
		pendingHeading = ""
	}

	for _, sec := range flattened {
		tokens := EstimateTokens(sec.Content)

		if tokens > opts.MaxTokens {
			flush()
			for _, c := range splitFixedSize(sec.Content, 0, fixed) {
				if sec.Heading != "" {
					heading := sec.Heading
					c.Section = &heading
				}
				// Offsets are section-relative here, not document
				// positions; clear them so they cannot be misread.
				c.StartOffset, c.EndOffset = 0, 0
				chunks = append(chunks, c)
			}
			continue
		}

		if pending.Len() == 0 {
			pendingHeading = sec.Heading
		} else {
			pending.WriteString("\n\n")
		}
		pending.WriteString(sec.Content)

		if EstimateTokens(pending.String()) >= opts.MinTokens {
			flush()
		}
	}
	flush()
	return chunks
}

// flattenSections folds headings deeper than maxLevel into their
// parent section so a deep outline does not fragment chunks.
func flattenSections(sections []models.Section, maxLevel int) []models.Section {
	out := make([]models.Section, 0, len(sections))
	for _, sec := range sections {
		if sec.Level > maxLevel && len(out) > 0 {
			out[len(out)-1].Content += "\n\n" + sec.Content
			out[len(out)-1].EndLine = sec.EndLine
			continue
		}
		out = append(out, sec)
	}
	return out
}

type protectedSpan struct {
	start int
	end   int
}

var (
	fenceRe    = regexp.MustCompile("^\\s*```")
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+\.)\s`)
	headingRe  = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
)

// splitMarkdownAware is the fixed-size walk with protected spans.
// Cuts landing inside a code fence or list run extend to the span end
// when the chunk stays within 1.5x the target, otherwise move before
// the span.
func splitMarkdownAware(content string, opts MarkdownOptions) []ChunkData {
	spans := protectedSpans(content, opts.PreserveCodeBlocks, opts.PreserveLists)

	targetChars := opts.TargetTokens * 4
	overlapChars := opts.OverlapTokens * 4
	maxChars := targetChars + targetChars/2

	var chunks []ChunkData
	pos := 0
	n := len(content)
	for pos < n {
		end := pos + targetChars
		if end >= n {
			end = n
		} else {
			end = findBreak(content, pos, end, targetChars/10)
			if span, inside := spanContaining(spans, end); inside && span.start > pos {
				if span.end-pos <= maxChars {
					end = span.end
				} else {
					end = span.start
				}
				if end > n {
					end = n
				}
			}
		}

		chunk := ChunkData{
			Content:     content[pos:end],
			StartOffset: pos,
			EndOffset:   end,
		}
		if heading := lastHeadingIn(chunk.Content); heading != "" {
			chunk.Section = &heading
		}
		chunks = append(chunks, chunk)
		if end >= n {
			break
		}

		next := end - overlapChars
		if next <= pos {
			next = end
		}
		// Never restart inside a protected span.
		if span, inside := spanContaining(spans, next); inside && span.start > pos && next > span.start {
			next = span.end
			if next <= pos {
				next = end
			}
		}
		pos = next
	}
	return chunks
}

// protectedSpans locates fenced code blocks and contiguous list runs
// as byte ranges that should not be cut through.
func protectedSpans(content string, codeBlocks, lists bool) []protectedSpan {
	var spans []protectedSpan
	lines := strings.SplitAfter(content, "\n")

	offset := 0
	inFence := false
	fenceStart := 0
	listStart := -1

	endList := func(at int) {
		if lists && listStart >= 0 {
			spans = append(spans, protectedSpan{start: listStart, end: at})
		}
		listStart = -1
	}

	for _, line := range lines {
		lineStart := offset
		offset += len(line)

		if fenceRe.MatchString(line) {
			endList(lineStart)
			if inFence {
				if codeBlocks {
					spans = append(spans, protectedSpan{start: fenceStart, end: offset})
				}
				inFence = false
			} else {
				inFence = true
				fenceStart = lineStart
			}
			continue
		}
		if inFence {
			continue
		}

		switch {
		case listItemRe.MatchString(line):
			if listStart < 0 {
				listStart = lineStart
			}
		case listStart >= 0 && isListContinuation(line):
			// indented continuation stays in the run
		default:
			endList(lineStart)
		}
	}
	if inFence && codeBlocks {
		spans = append(spans, protectedSpan{start: fenceStart, end: offset})
	}
	endList(offset)
	return spans
}

func isListContinuation(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return trimmed != line && strings.TrimSpace(trimmed) != ""
}

func spanContaining(spans []protectedSpan, pos int) (protectedSpan, bool) {
	for _, s := range spans {
		if pos > s.start && pos < s.end {
			return s, true
		}
	}
	return protectedSpan{}, false
}

func lastHeadingIn(chunk string) string {
	matches := headingRe.FindAllStringSubmatch(chunk, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][2])
}

// resolvePages maps each chunk's start offset onto the page whose
// character range contains it.
func resolvePages(chunks []ChunkData, pages []models.PageContent) {
	for i := range chunks {
		for _, page := range pages {
			if chunks[i].StartOffset >= page.StartOffset && chunks[i].StartOffset < page.EndOffset {
				n := page.PageNumber
				chunks[i].PageNumber = &n
				break
			}
		}
		if chunks[i].PageNumber == nil && len(pages) > 0 {
			// Offsets falling inside a page delimiter belong to the
			// following page.
			for _, page := range pages {
				if page.StartOffset >= chunks[i].StartOffset {
					n := page.PageNumber
					chunks[i].PageNumber = &n
					break
				}
			}
		}
	}
}

package services

import (
	"context"
	"math"
	"strings"
	"testing"

	"lorekeeper-platform/models"
)

func builtWith(scores ...float64) *models.BuiltContext {
	built := &models.BuiltContext{ChunksUsed: len(scores), ContextText: "[1] manual.pdf\nDragons fear cold iron."}
	for i, score := range scores {
		built.Sources = append(built.Sources, models.ContextSource{
			CitationIndex:  i + 1,
			DocumentName:   "manual.pdf",
			RelevanceScore: score,
		})
	}
	return built
}

func TestGenerateAnswerCarriesSources(t *testing.T) {
	fake := &fakeLLM{response: "Dragons fear cold iron [1]."}
	g := NewResponseGenerator(fake)

	got, err := g.Generate(context.Background(), "What are the dragon's weaknesses?", builtWith(0.88), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got.Answer, "cold iron") || !strings.Contains(got.Answer, "[1]") {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.IsUnanswerable {
		t.Error("answer flagged unanswerable")
	}
	if len(got.Sources) != 1 || got.Sources[0].DocumentName != "manual.pdf" {
		t.Errorf("sources = %+v", got.Sources)
	}
	if models.ConfidenceLabel(got.Confidence) != models.ConfidenceHigh {
		t.Errorf("confidence %f should label high", got.Confidence)
	}
	if !fake.lastOpts.TemperatureSet || fake.lastOpts.Temperature != 0 {
		t.Error("answer generation must pin temperature to 0")
	}
}

func TestGenerateIncludesContextAndLegend(t *testing.T) {
	fake := &fakeLLM{response: "answer"}
	g := NewResponseGenerator(fake)

	_, err := g.Generate(context.Background(), "who rules Barovia?", builtWith(0.9), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	user := fake.lastHistory[len(fake.lastHistory)-1].Content
	for _, fragment := range []string{"Dragons fear cold iron", "Source legend:", "[1] manual.pdf", "Question: who rules Barovia?"} {
		if !strings.Contains(user, fragment) {
			t.Errorf("user message missing %q", fragment)
		}
	}
}

func TestGenerateNoContextSubstitutesPlaceholder(t *testing.T) {
	fake := &fakeLLM{response: "I don't have enough information to answer."}
	g := NewResponseGenerator(fake)

	got, err := g.Generate(context.Background(), "anything?", &models.BuiltContext{Sources: []models.ContextSource{}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	user := fake.lastHistory[len(fake.lastHistory)-1].Content
	if !strings.Contains(user, "No relevant context was found") {
		t.Errorf("user message = %q", user)
	}
	if got.Confidence != 0.1 {
		t.Errorf("confidence = %f, want 0.1 with no sources", got.Confidence)
	}
}

func TestGenerateTruncatesHistory(t *testing.T) {
	fake := &fakeLLM{response: "answer"}
	g := NewResponseGenerator(fake)

	var history []models.Message
	for i := 0; i < 25; i++ {
		history = append(history, models.Message{Role: models.RoleUser, Content: "m"})
	}
	_, err := g.Generate(context.Background(), "q", builtWith(0.5), history)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// 10 history messages plus the question.
	if len(fake.lastHistory) != 11 {
		t.Errorf("messages = %d, want 11", len(fake.lastHistory))
	}
}

func TestIsUnanswerable(t *testing.T) {
	cases := map[string]bool{
		"I don't have enough information about that.":          true,
		"That spell is NOT MENTIONED IN the provided sources.": true,
		"I cannot find any reference to this NPC.":             true,
		"The dragon is vulnerable to frost [1].":               false,
	}
	for answer, want := range cases {
		if got := isUnanswerable(answer); got != want {
			t.Errorf("isUnanswerable(%q) = %v", answer, got)
		}
	}
}

func TestScoreConfidence(t *testing.T) {
	if got := scoreConfidence(nil, false); got != 0.1 {
		t.Errorf("no sources = %f, want 0.1", got)
	}
	if got := scoreConfidence(builtWith(0.9).Sources, true); got != 0.15 {
		t.Errorf("unanswerable = %f, want 0.15", got)
	}

	// top 0.8, avg 0.6, 2 sources: 0.8*0.5 + 0.6*0.3 + 1*0.05 + 0.05
	got := scoreConfidence(builtWith(0.8, 0.4).Sources, false)
	want := 0.8*0.5 + 0.6*0.3 + 0.05 + 0.05
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %f, want %f", got, want)
	}

	// Source-count bonus caps at 3 extra sources.
	many := builtWith(1, 1, 1, 1, 1, 1, 1, 1).Sources
	if got := scoreConfidence(many, false); got != 1 {
		t.Errorf("confidence = %f, want clamp to 1", got)
	}
}

func TestConfidenceLabels(t *testing.T) {
	cases := map[float64]string{
		0.95: models.ConfidenceHigh,
		0.7:  models.ConfidenceHigh,
		0.69: models.ConfidenceMedium,
		0.4:  models.ConfidenceMedium,
		0.39: models.ConfidenceLow,
		0.1:  models.ConfidenceLow,
	}
	for score, want := range cases {
		if got := models.ConfidenceLabel(score); got != want {
			t.Errorf("ConfidenceLabel(%f) = %s, want %s", score, got, want)
		}
	}
}

package services

import (
	"context"
	"errors"
	"testing"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/models"
)

type fakeRetriever struct {
	built *models.BuiltContext
	err   error
}

func (f *fakeRetriever) Ground(ctx context.Context, campaignID, query string) (*models.BuiltContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.built, nil
}

func groundedContext() *models.BuiltContext {
	return &models.BuiltContext{
		ContextText: "[1] setting.pdf\nThe barony is overrun by restless dead.",
		ChunksUsed:  1,
		Sources: []models.ContextSource{
			{CitationIndex: 1, DocumentID: "d1", DocumentName: "setting.pdf", DocumentType: models.DocTypeSetting, RelevanceScore: 0.8},
		},
	}
}

func hookJSON(title string) string {
	return `{"title":"` + title + `","description":"A grim task awaits."}`
}

func collectEvents(t *testing.T, ch <-chan models.GenerationEvent) []models.GenerationEvent {
	t.Helper()
	var events []models.GenerationEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestItemScannerExtractsObjects(t *testing.T) {
	s := &itemScanner{}
	var items [][]byte
	for _, piece := range []string{`[{"a":1},`, `{"b":`, `2}]`} {
		items = append(items, s.feed(piece)...)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if string(items[0]) != `{"a":1}` || string(items[1]) != `{"b":2}` {
		t.Errorf("items = %q, %q", items[0], items[1])
	}
}

func TestItemScannerHandlesBracesInStrings(t *testing.T) {
	s := &itemScanner{}
	items := s.feed(`[{"text":"a } inside \" string {"}]`)
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	if string(items[0]) != `{"text":"a } inside \" string {"}` {
		t.Errorf("item = %q", items[0])
	}
}

func TestItemScannerNestedObjects(t *testing.T) {
	s := &itemScanner{}
	items := s.feed(`[{"outer":{"inner":{"deep":true}}},{"next":1}]`)
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if string(items[0]) != `{"outer":{"inner":{"deep":true}}}` {
		t.Errorf("item = %q", items[0])
	}
}

func TestItemScannerIgnoresProseAroundJSON(t *testing.T) {
	s := &itemScanner{}
	items := s.feed("Here are your hooks:\n[{\"a\":1}] done")
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
}

func TestGenerateHooksEventOrder(t *testing.T) {
	fake := &fakeLLM{stream: []llm.StreamChunk{
		{Content: "["},
		{Content: hookJSON("The Sunken Crypt") + ","},
		{Content: hookJSON("Bells at Midnight") + ","},
		{Content: hookJSON("The Pale Procession") + "]"},
		{Done: true, Usage: &models.TokenUsage{PromptTokens: 100, CompletionTokens: 80}},
	}}
	g := NewGenerationService(&config.Config{}, fake, &fakeRetriever{built: groundedContext()})

	events := collectEvents(t, g.Generate(context.Background(), GenerateHooks, "c1", models.GenerateRequest{
		Tone: "dark", Theme: "undead uprising", Count: 3,
	}))

	var statuses, hooks int
	sawTerminal := false
	for i, ev := range events {
		switch ev.Type {
		case models.EventStatus:
			if hooks > 0 {
				t.Errorf("status event %d arrived after a hook", i)
			}
			statuses++
		case models.EventHook:
			if sawTerminal {
				t.Errorf("hook event %d after terminal", i)
			}
			if ev.Hook == nil || ev.Hook.Title == "" || ev.Hook.Description == "" {
				t.Errorf("hook event %d incomplete: %+v", i, ev.Hook)
			}
			hooks++
		case models.EventComplete:
			sawTerminal = true
			if len(ev.Sources) == 0 {
				t.Error("complete event has no sources")
			}
			if ev.Usage == nil || ev.Usage.PromptTokens != 100 {
				t.Errorf("complete usage = %+v", ev.Usage)
			}
		case models.EventError:
			t.Fatalf("unexpected error event: %+v", ev)
		}
	}
	if statuses == 0 {
		t.Error("no status events")
	}
	if hooks != 3 {
		t.Errorf("hook events = %d, want 3", hooks)
	}
	if !sawTerminal || events[len(events)-1].Type != models.EventComplete {
		t.Error("stream did not end with complete")
	}
}

func TestGenerateNPCs(t *testing.T) {
	fake := &fakeLLM{stream: []llm.StreamChunk{
		{Content: `[{"name":"Yara","race":"dwarf","occupation":"blacksmith"}]`},
		{Done: true},
	}}
	g := NewGenerationService(&config.Config{}, fake, &fakeRetriever{built: groundedContext()})

	events := collectEvents(t, g.Generate(context.Background(), GenerateNPCs, "c1", models.GenerateRequest{Count: 1}))

	var npcs int
	for _, ev := range events {
		if ev.Type == models.EventNPC {
			npcs++
			if ev.NPC == nil || ev.NPC.Name != "Yara" {
				t.Errorf("npc = %+v", ev.NPC)
			}
		}
	}
	if npcs != 1 {
		t.Errorf("npc events = %d", npcs)
	}
}

func TestGenerateRetrievalFailureEmitsError(t *testing.T) {
	g := NewGenerationService(&config.Config{}, &fakeLLM{}, &fakeRetriever{err: errors.New("db down")})

	events := collectEvents(t, g.Generate(context.Background(), GenerateHooks, "c1", models.GenerateRequest{}))
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("terminal event = %s", last.Type)
	}
	if last.StatusCode != 500 {
		t.Errorf("statusCode = %d", last.StatusCode)
	}
}

func TestGenerateNoItemsEmitsError(t *testing.T) {
	fake := &fakeLLM{stream: []llm.StreamChunk{
		{Content: "I cannot produce JSON right now."},
		{Done: true},
	}}
	g := NewGenerationService(&config.Config{}, fake, &fakeRetriever{built: groundedContext()})

	events := collectEvents(t, g.Generate(context.Background(), GenerateHooks, "c1", models.GenerateRequest{}))
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("terminal event = %s", last.Type)
	}
}

func TestGenerateRegenerationTargetsIndex(t *testing.T) {
	fake := &fakeLLM{stream: []llm.StreamChunk{
		{Content: "[" + hookJSON("Replacement Hook") + "]"},
		{Done: true},
	}}
	g := NewGenerationService(&config.Config{}, fake, &fakeRetriever{built: groundedContext()})

	index := 2
	events := collectEvents(t, g.Generate(context.Background(), GenerateHooks, "c1", models.GenerateRequest{
		Count: 3, Index: &index,
	}))

	var hooks int
	for _, ev := range events {
		if ev.Type == models.EventHook {
			hooks++
			if ev.Index == nil || *ev.Index != 2 {
				t.Errorf("hook index = %v, want 2", ev.Index)
			}
		}
	}
	if hooks != 1 {
		t.Errorf("regeneration emitted %d hooks, want 1", hooks)
	}
}

package services

import (
	"strings"
	"testing"

	"lorekeeper-platform/internal/apperrors"
)

func TestValidateQueryBounds(t *testing.T) {
	if err := validateQuery(""); err == nil {
		t.Error("empty query accepted")
	} else if apperrors.CodeOf(err) != apperrors.CodeInvalidQuery {
		t.Errorf("empty query returned code %s, want INVALID_QUERY", apperrors.CodeOf(err))
	}
	if err := validateQuery(strings.Repeat("a", 2000)); err != nil {
		t.Errorf("2000-character query rejected: %v", err)
	}
	if err := validateQuery(strings.Repeat("a", 2001)); err == nil {
		t.Error("2001-character query accepted")
	}
}

func TestValidateQueryCountsRunes(t *testing.T) {
	// 1500 three-byte runes exceed 2000 bytes but not 2000 characters.
	query := strings.Repeat("龍", 1500)
	if len(query) <= 2000 {
		t.Fatalf("fixture too short to exercise the byte/rune distinction: %d bytes", len(query))
	}
	if err := validateQuery(query); err != nil {
		t.Errorf("multibyte query within the character limit rejected: %v", err)
	}
}

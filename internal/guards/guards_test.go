package guards

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMemoryClampsImportanceAndConfidence(t *testing.T) {
	r := CheckMemory("a short fact", "fact", 1.7, -0.3, false)
	assert.True(t, r.IsValid)
	assert.Equal(t, 1.0, r.Adjustments["importance"])
	assert.Equal(t, 0.0, r.Adjustments["confidence"])
}

func TestCheckMemoryWarnsOnLongContent(t *testing.T) {
	r := CheckMemory(strings.Repeat("x", 600), "fact", 0.5, 0.5, false)
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)
	assert.Len(t, r.Adjustments["content"], 600, "over 500 warns but does not truncate")
}

func TestCheckMemoryTruncatesVeryLongContent(t *testing.T) {
	r := CheckMemory(strings.Repeat("x", 1500), "fact", 0.5, 0.5, false)
	assert.Len(t, r.Adjustments["content"], 1000)
}

func TestCheckMemoryWarnsOnCommitmentWithoutDeadline(t *testing.T) {
	r := CheckMemory("I'll handle it eventually", "commitment", 0.8, 0.8, false)
	assert.True(t, r.IsValid, "warnings are advisory; the write still succeeds")
	assert.NotEmpty(t, r.Warnings)

	withDeadline := CheckMemory("I'll handle it", "commitment", 0.8, 0.8, true)
	assert.Empty(t, withDeadline.Warnings)
}

func TestCheckEntityRejectsEmptyName(t *testing.T) {
	r := CheckEntity("", "person", nil)
	assert.False(t, r.IsValid)
}

func TestCheckEntityDefaultsTypeToPerson(t *testing.T) {
	r := CheckEntity("Maria Gomez", "", nil)
	assert.True(t, r.IsValid)
	assert.Equal(t, "person", r.Adjustments["type"])
}

func TestCheckEntityWarnsOnNearDuplicateName(t *testing.T) {
	r := CheckEntity("Jon Smith", "person", []string{"john smith"})
	assert.True(t, r.IsValid)
	assert.NotEmpty(t, r.Warnings)

	distinct := CheckEntity("Maria Gomez", "person", []string{"john smith"})
	assert.Empty(t, distinct.Warnings)
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityRatio("Sarah", "sarah"), "case-insensitive")
	assert.Greater(t, SimilarityRatio("jon smith", "john smith"), 0.85)
	assert.Less(t, SimilarityRatio("alice", "bob"), 0.5)
}

package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRegexOnly(t *testing.T) {
	pipeline := NewPipeline()
	text := `
Had lunch with Sarah Chen from Acme Corp today. She's leading the Phoenix
project and mentioned the Q3 proposal is due soon.

- Sarah Chen -> Acme Corp (works_at)
`

	result, err := pipeline.Run(context.Background(), text)
	require.NoError(t, err)

	names := map[string]Entity{}
	for _, e := range result.Entities {
		names[entityKey(e.Name)] = e
	}

	person, ok := names["sarah chen"]
	assert.True(t, ok, "expected Sarah Chen to be extracted")
	if ok {
		assert.Equal(t, "person", person.Type)
		assert.Equal(t, 0.6, person.Confidence)
		assert.Equal(t, "regex", person.Source)
	}

	org, ok := names["acme corp"]
	assert.True(t, ok, "expected Acme Corp to be extracted")
	if ok {
		assert.Equal(t, "organization", org.Type)
	}

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "works_at", result.Relationships[0].Type)
	assert.Contains(t, result.Extractors, "regex")
}

func TestExtractFacts(t *testing.T) {
	facts := ExtractFacts("I'll send the report by Friday. I prefer async updates over meetings.",
		[]string{"report"})

	var commitments, preferences int
	for _, f := range facts {
		switch f.Type {
		case "commitment":
			commitments++
			assert.True(t, f.HasDeadline)
		case "preference":
			preferences++
		}
	}
	assert.Equal(t, 1, commitments)
	assert.Equal(t, 1, preferences)
}

func TestEntityKeyMergesCase(t *testing.T) {
	assert.Equal(t, entityKey("Sarah Chen"), entityKey("sarah chen"))
}

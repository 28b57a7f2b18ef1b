package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeadlineParsesRelativePhrases(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday

	cases := []struct {
		text string
		want func(t *testing.T, resolved time.Time)
	}{
		{
			"I'll send the deck tomorrow",
			func(t *testing.T, resolved time.Time) {
				assert.Equal(t, now.Day()+1, resolved.Day())
			},
		},
		{
			"deliver the report by Friday",
			func(t *testing.T, resolved time.Time) {
				assert.Equal(t, time.Friday, resolved.Weekday())
				assert.True(t, resolved.After(now))
			},
		},
		{
			"finish the migration in 3 days",
			func(t *testing.T, resolved time.Time) {
				assert.Equal(t, now.AddDate(0, 0, 3).Day(), resolved.Day())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			marker, ok := ResolveDeadline(tc.text, now)
			require.True(t, ok, "expected a temporal marker in %q", tc.text)
			tc.want(t, marker.ResolvedDate)
		})
	}
}

func TestResolveDeadlineReturnsFalseWithoutDates(t *testing.T) {
	_, ok := ResolveDeadline("the architecture is settled", time.Now())
	assert.False(t, ok)
}

func TestCanonicalNameStripsTitlesAndCase(t *testing.T) {
	assert.Equal(t, "sarah chen", CanonicalName("Dr. Sarah Chen"))
	assert.Equal(t, "sarah chen", CanonicalName("  Sarah   Chen  "))
	assert.Equal(t, "sarah chen", CanonicalName("Mrs Sarah Chen"))
}

package extractor

import (
	"time"

	"github.com/claudia-memory/claudia/internal/types"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// temporalParser resolves natural-language date references ("next Friday",
// "by end of Q3", "tomorrow") into absolute times. Built once and reused
// across calls since rule registration is not cheap.
var temporalParser = newTemporalParser()

func newTemporalParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ResolveDeadline finds the first natural-language date reference in text
// and resolves it relative to now, backing the Fact.HasDeadline /
// TemporalMarker.ResolvedDate fields the regex deadline pattern can only
// flag as present, not resolve to a concrete time.
func ResolveDeadline(text string, now time.Time) (*types.TemporalMarker, bool) {
	result, err := temporalParser.Parse(text, now)
	if err != nil || result == nil {
		return nil, false
	}
	return &types.TemporalMarker{
		RawText:      result.Text,
		ResolvedDate: result.Time,
		MarkerType:   "deadline",
		Confidence:   0.7,
	}, true
}

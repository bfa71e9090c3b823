// Package winner implements spec §4.8 (WinnerSelector): selecting one
// candidate from the successful PatchEvaluator results. Grounded on
// original_source/rfsn_controller/winner_selection.py's "first
// successful wins" reference policy plus its scoring-pass formula.
package winner

import (
	"github.com/dawsonblock/rfsnctl/internal/model"
)

// Candidate bundles an evaluated diff with the metadata scoring needs.
type Candidate struct {
	Diff             model.Diff
	OK               bool
	TestFilesEdited  int
	TracebackFilesEdited int
}

// Score computes spec §4.8's scoring formula (lower is better):
// score = linesChanged + 5*filesChanged + 10*testFilesEdited - 5*tracebackFilesEdited.
func Score(c Candidate) float64 {
	linesChanged := c.Diff.LinesAdded + c.Diff.LinesRemoved
	filesChanged := len(c.Diff.FilesChanged)
	return float64(linesChanged) +
		5*float64(filesChanged) +
		10*float64(c.TestFilesEdited) -
		5*float64(c.TracebackFilesEdited)
}

// Select implements "first successful wins", the reference policy,
// preserving input order for determinism (spec §4.8, §5: "Results are
// collected in input-submission order; firstSuccessful returns the
// first ok=true in that order").
func Select(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.OK {
			return c, true
		}
	}
	return Candidate{}, false
}

// SelectByScore applies the optional scoring pass when multiple
// candidates succeed: the lowest score wins, ties broken by input order.
func SelectByScore(candidates []Candidate) (Candidate, bool) {
	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		if !c.OK {
			continue
		}
		s := Score(c)
		if best == -1 || s < bestScore {
			best = i
			bestScore = s
		}
	}
	if best == -1 {
		return Candidate{}, false
	}
	return candidates[best], true
}

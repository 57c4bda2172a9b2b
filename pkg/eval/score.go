// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eval

// Verdict is the categorical evaluation outcome.
type Verdict string

const (
	VerdictPass       Verdict = "pass"
	VerdictFail       Verdict = "fail"
	VerdictBorderline Verdict = "borderline"
)

// Default verdict thresholds: score >= PassThreshold is a pass,
// score >= BorderlineThreshold is borderline, everything below fails.
const (
	PassThreshold       = 0.8
	BorderlineThreshold = 0.6
)

// MaxReportedFindings caps how many hits and misses an evaluator surfaces.
const MaxReportedFindings = 4

// Clamp01 clamps a score into [0, 1].
func Clamp01(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// VerdictForScore derives the verdict from a score using the default
// threshold map.
func VerdictForScore(score float64) Verdict {
	switch {
	case score >= PassThreshold:
		return VerdictPass
	case score >= BorderlineThreshold:
		return VerdictBorderline
	default:
		return VerdictFail
	}
}

// CapFindings truncates a hit or miss list to MaxReportedFindings entries.
func CapFindings(items []string) []string {
	if len(items) <= MaxReportedFindings {
		return items
	}
	return items[:MaxReportedFindings]
}

// Score is the normalized verdict one evaluator produces for one case.
type Score struct {
	Score               float64          `json:"score" yaml:"score"`
	Verdict             Verdict          `json:"verdict" yaml:"verdict"`
	Hits                []string         `json:"hits" yaml:"hits"`
	Misses              []string         `json:"misses" yaml:"misses"`
	ExpectedAspectCount int              `json:"expected_aspect_count" yaml:"expected_aspect_count"`
	Reasoning           string           `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	EvaluatorRawRequest any              `json:"evaluator_raw_request,omitempty" yaml:"evaluator_raw_request,omitempty"`
	Details             map[string]any   `json:"details,omitempty" yaml:"details,omitempty"`
	ChildScores         []EvaluatorScore `json:"child_scores,omitempty" yaml:"child_scores,omitempty"`
}

// Normalize enforces the score invariants: the score is clamped to [0, 1],
// ExpectedAspectCount is at least 1, and a missing verdict is derived from
// the score.
func (s *Score) Normalize() {
	s.Score = Clamp01(s.Score)
	if s.ExpectedAspectCount < 1 {
		s.ExpectedAspectCount = 1
	}
	if s.Verdict == "" {
		s.Verdict = VerdictForScore(s.Score)
	}
	if s.Hits == nil {
		s.Hits = []string{}
	}
	if s.Misses == nil {
		s.Misses = []string{}
	}
}

// FailScore builds a normalized zero score carrying a single miss.
func FailScore(miss string) Score {
	s := Score{Score: 0, Verdict: VerdictFail, Misses: []string{miss}, ExpectedAspectCount: 1}
	s.Normalize()
	return s
}

// EvaluatorScore is a per-evaluator entry on the merged result.
type EvaluatorScore struct {
	Name             string         `json:"name" yaml:"name"`
	Type             string         `json:"type" yaml:"type"`
	Score            float64        `json:"score" yaml:"score"`
	Verdict          Verdict        `json:"verdict" yaml:"verdict"`
	Hits             []string       `json:"hits" yaml:"hits"`
	Misses           []string       `json:"misses" yaml:"misses"`
	Weight           float64        `json:"weight,omitempty" yaml:"weight,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Details          map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	EvaluatorResults any            `json:"evaluator_results,omitempty" yaml:"evaluator_results,omitempty"`
}

// MergeScores combines per-evaluator scores into the case-level score and
// verdict. The mean is weighted by each evaluator's ExpectedAspectCount; a
// fail verdict on any evaluator caps the merged verdict at the derived one
// (a forced fail from a required gate stays a fail even when the weighted
// mean clears the pass threshold).
func MergeScores(scores []Score) (float64, Verdict) {
	if len(scores) == 0 {
		return 0, VerdictFail
	}

	totalWeight := 0.0
	weightedSum := 0.0
	forcedFail := false
	for _, s := range scores {
		weight := float64(s.ExpectedAspectCount)
		if weight < 1 {
			weight = 1
		}
		totalWeight += weight
		weightedSum += Clamp01(s.Score) * weight
		if s.Verdict == VerdictFail && s.Score >= BorderlineThreshold {
			// Verdict forced below what the score implies.
			forcedFail = true
		}
	}

	merged := Clamp01(weightedSum / totalWeight)
	verdict := VerdictForScore(merged)
	if forcedFail {
		verdict = VerdictFail
	}
	return merged, verdict
}

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

package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
)

// Field-accuracy aggregation modes.
const (
	AggWeightedAverage = "weighted_average"
	AggAllOrNothing    = "all_or_nothing"
)

// fieldAccuracy compares structured fields extracted from the candidate
// answer against the expected object, field by field.
type fieldAccuracy struct {
	name        string
	fields      []eval.FieldSpec
	aggregation string
}

func newFieldAccuracy(cfg eval.EvaluatorConfig) (Evaluator, error) {
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("field_accuracy: at least one field is required")
	}
	agg := cfg.Aggregation
	if agg == "" {
		agg = AggWeightedAverage
	}
	if agg != AggWeightedAverage && agg != AggAllOrNothing {
		return nil, fmt.Errorf("field_accuracy: unknown aggregation %q", agg)
	}
	for i, f := range cfg.Fields {
		if f.Path == "" {
			return nil, fmt.Errorf("field_accuracy: field %d has no path", i)
		}
		switch f.Match {
		case "", eval.MatchExact, eval.MatchNumericTolerance, eval.MatchDate:
		default:
			return nil, fmt.Errorf("field_accuracy: field %q has unknown match kind %q", f.Path, f.Match)
		}
	}
	return &fieldAccuracy{
		name:        cfg.DisplayName(),
		fields:      cfg.Fields,
		aggregation: agg,
	}, nil
}

func (f *fieldAccuracy) Name() string {
	return f.name
}

func (f *fieldAccuracy) Evaluate(_ context.Context, ec *Context) (eval.Score, error) {
	expected, err := expectedObject(ec.Case)
	if err != nil {
		return eval.FailScore(fmt.Sprintf("no expected object to compare against: %v", err)), nil
	}
	candidate, err := parseJSONObject(ec.Candidate)
	if err != nil {
		return eval.FailScore(fmt.Sprintf("candidate is not valid JSON: %v", err)), nil
	}

	var hits, misses []string
	var totalWeight, earnedWeight float64
	compared, passed := 0, 0

	for _, spec := range f.fields {
		want, ok := resolvePath(expected, spec.Path)
		if !ok {
			// Nothing to compare against; the field does not participate.
			continue
		}
		compared++

		got, ok := resolvePath(candidate, spec.Path)
		if !ok {
			if spec.Required {
				totalWeight += spec.EffectiveWeight()
				misses = append(misses, fmt.Sprintf("%s: missing from candidate (required)", spec.Path))
			} else {
				hits = append(hits, fmt.Sprintf("%s: missing from candidate, not required", spec.Path))
				passed++
			}
			continue
		}

		totalWeight += spec.EffectiveWeight()
		hit, detail := compareField(spec, want, got)
		if hit {
			earnedWeight += spec.EffectiveWeight()
			passed++
			hits = append(hits, fmt.Sprintf("%s: %s", spec.Path, detail))
		} else {
			misses = append(misses, fmt.Sprintf("%s: %s", spec.Path, detail))
		}
	}

	score := eval.Score{
		Hits:                eval.CapFindings(hits),
		Misses:              eval.CapFindings(misses),
		ExpectedAspectCount: compared,
	}
	switch {
	case totalWeight == 0:
		score.Score = 1
	case f.aggregation == AggAllOrNothing:
		if passed == compared {
			score.Score = 1
		}
	default:
		score.Score = earnedWeight / totalWeight
	}
	score.Normalize()
	return score, nil
}

// expectedObject unpacks the structured content of the last expected
// assistant message, parsing textual content as JSON when needed.
func expectedObject(c *eval.EvalCase) (any, error) {
	if c == nil || len(c.ExpectedMessages) == 0 {
		return nil, fmt.Errorf("case has no expected messages")
	}
	last := c.ExpectedMessages[len(c.ExpectedMessages)-1]
	switch content := last.Content.(type) {
	case nil:
		return nil, fmt.Errorf("last expected message has no content")
	case string:
		return parseJSONObject(content)
	default:
		return content, nil
	}
}

// parseJSONObject decodes a JSON value from text, tolerating markdown code
// fences and leading prose around the first object or array.
func parseJSONObject(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty content")
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value, nil
	}

	if extracted := extractJSONBlock(trimmed); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &value); err == nil {
			return value, nil
		}
	}
	return nil, fmt.Errorf("no JSON value found")
}

// extractJSONBlock returns the first balanced {...} or [...] region of the
// text, or the body of a fenced code block if one exists.
func extractJSONBlock(text string) string {
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	var closeCh byte = '}'
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// compareField applies one field's match kind and returns (hit, detail).
func compareField(spec eval.FieldSpec, want, got any) (bool, string) {
	switch spec.Match {
	case eval.MatchNumericTolerance:
		return compareNumeric(spec, want, got)
	case eval.MatchDate:
		return compareDate(spec, want, got)
	default:
		return compareExact(want, got)
	}
}

func compareExact(want, got any) (bool, string) {
	if deepEqual(want, got) {
		return true, fmt.Sprintf("matched %v", want)
	}
	if fmt.Sprintf("%T", want) != fmt.Sprintf("%T", got) {
		_, wantNum := asNumber(want)
		_, gotNum := asNumber(got)
		if !(wantNum && gotNum) {
			return false, fmt.Sprintf("type mismatch: expected %T, got %T", want, got)
		}
	}
	return false, fmt.Sprintf("expected %v, got %v", want, got)
}

func compareNumeric(spec eval.FieldSpec, want, got any) (bool, string) {
	wantN, ok := parseNumber(want)
	if !ok {
		return false, fmt.Sprintf("expected value %v is not numeric", want)
	}
	gotN, ok := parseNumber(got)
	if !ok {
		return false, fmt.Sprintf("candidate value %v is not numeric", got)
	}

	diff := math.Abs(wantN - gotN)
	if spec.Relative && wantN != 0 {
		if diff/math.Abs(wantN) <= spec.Tolerance {
			return true, fmt.Sprintf("%v within relative tolerance of %v", gotN, wantN)
		}
		return false, fmt.Sprintf("%v outside relative tolerance %v of %v", gotN, spec.Tolerance, wantN)
	}
	if diff <= spec.Tolerance {
		return true, fmt.Sprintf("%v within tolerance of %v", gotN, wantN)
	}
	return false, fmt.Sprintf("%v differs from %v by %v, tolerance %v", gotN, wantN, diff, spec.Tolerance)
}

// parseNumber extends asNumber to numeric strings, stripping currency
// symbols, commas, and surrounding whitespace.
func parseNumber(v any) (float64, bool) {
	if n, ok := asNumber(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimLeft(cleaned, "$€£¥ ")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimRight(cleaned, "% ")
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func compareDate(spec eval.FieldSpec, want, got any) (bool, string) {
	wantT, err := parseDate(fmt.Sprintf("%v", want), spec.Formats)
	if err != nil {
		return false, fmt.Sprintf("expected value %v is not a recognizable date", want)
	}
	gotT, err := parseDate(fmt.Sprintf("%v", got), spec.Formats)
	if err != nil {
		return false, fmt.Sprintf("candidate value %v is not a recognizable date", got)
	}

	if sameDay(wantT, gotT) {
		return true, fmt.Sprintf("dates match (%s)", wantT.Format("2006-01-02"))
	}
	return false, fmt.Sprintf("expected %s, got %s", wantT.Format("2006-01-02"), gotT.Format("2006-01-02"))
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// parseDate tries ISO layouts, then DD-MMM-YYYY, then the slash-separated
// numeric forms. Ambiguous slash dates resolve by the configured formats
// list first, then by whichever component exceeds 12.
func parseDate(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	isoLayouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	// DD-MMM-YYYY, month name case-insensitive.
	if t, err := time.Parse("02-Jan-2006", normalizeMonthCase(s)); err == nil {
		return t, nil
	}

	return parseSlashDate(s, formats)
}

// normalizeMonthCase rewrites 15-JAN-2025 to 15-Jan-2025 so the stdlib
// layout accepts it.
func normalizeMonthCase(s string) string {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[1]) != 3 {
		return s
	}
	month := strings.ToUpper(parts[1][:1]) + strings.ToLower(parts[1][1:])
	return parts[0] + "-" + month + "-" + parts[2]
}

func parseSlashDate(s string, formats []string) (time.Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	first, err1 := strconv.Atoi(parts[0])
	second, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}

	dayFirst := false
	switch {
	case containsLayout(formats, "02/01/2006"):
		dayFirst = true
	case containsLayout(formats, "01/02/2006"):
		dayFirst = false
	case first > 12 && second <= 12:
		dayFirst = true
	case second > 12 && first <= 12:
		dayFirst = false
	}

	month, day := first, second
	if dayFirst {
		month, day = second, first
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("date %q out of range", s)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

func containsLayout(formats []string, layout string) bool {
	for _, f := range formats {
		if f == layout {
			return true
		}
	}
	return false
}

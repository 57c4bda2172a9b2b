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

package writer

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agentv-ai/agentv/pkg/eval"
)

// JUnit buffers results and writes a JUnit XML report on close, one
// testsuite per dataset. CI systems consume this directly.
type JUnit struct {
	path    string
	results []*eval.EvaluationResult
	closed  bool
}

func NewJUnit(path string) (*JUnit, error) {
	return &JUnit{path: path}, nil
}

func (w *JUnit) Append(result *eval.EvaluationResult) error {
	if w.closed {
		return ErrClosed
	}
	w.results = append(w.results, result)
	return nil
}

type junitTestsuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Tests   int              `xml:"tests,attr"`
	Suites  []junitTestsuite `xml:"testsuite"`
}

type junitTestsuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Cases    []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name    string        `xml:"name,attr"`
	Time    string        `xml:"time,attr,omitempty"`
	Failure *junitFailure `xml:"failure,omitempty"`
	Error   *junitFailure `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

func (w *JUnit) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	byDataset := make(map[string][]*eval.EvaluationResult)
	for _, r := range w.results {
		dataset := r.Dataset
		if dataset == "" {
			dataset = "default"
		}
		byDataset[dataset] = append(byDataset[dataset], r)
	}

	datasets := make([]string, 0, len(byDataset))
	for name := range byDataset {
		datasets = append(datasets, name)
	}
	sort.Strings(datasets)

	doc := junitTestsuites{Tests: len(w.results)}
	for _, dataset := range datasets {
		suite := junitTestsuite{Name: dataset}
		for _, r := range byDataset[dataset] {
			tc := junitTestcase{Name: caseName(r)}
			if r.TraceSummary != nil && r.TraceSummary.DurationMs > 0 {
				tc.Time = fmt.Sprintf("%.3f", float64(r.TraceSummary.DurationMs)/1000)
			}
			switch {
			case r.Error != "":
				suite.Errors++
				tc.Error = &junitFailure{
					Message: r.Error,
					Body:    strings.Join(r.Misses, "\n"),
				}
			case r.Verdict != eval.VerdictPass:
				suite.Failures++
				tc.Failure = &junitFailure{
					Message: fmt.Sprintf("verdict %s, score %.2f", r.Verdict, r.Score),
					Body:    strings.Join(r.Misses, "\n"),
				}
			}
			suite.Tests++
			suite.Cases = append(suite.Cases, tc)
		}
		doc.Suites = append(doc.Suites, suite)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize junit report: %w", err)
	}
	return os.WriteFile(w.path, append([]byte(xml.Header), append(data, '\n')...), 0o644)
}

// caseName disambiguates repeated trials of the same case.
func caseName(r *eval.EvaluationResult) string {
	if r.Attempt > 0 {
		return fmt.Sprintf("%s (attempt %d)", r.TestID, r.Attempt)
	}
	return r.TestID
}

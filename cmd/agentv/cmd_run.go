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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentv-ai/agentv/internal/log"
	"github.com/agentv-ai/agentv/pkg/runner"
	"github.com/agentv-ai/agentv/pkg/store"
	"github.com/agentv-ai/agentv/pkg/suite"
	"github.com/agentv-ai/agentv/pkg/target"
	"github.com/agentv-ai/agentv/pkg/writer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runTarget     string
	runOutputs    []string
	runTrials     int
	runWorkers    int
	runFailFast   bool
	runTimeout    time.Duration
	runMaxRetries int
	runStoreDB    string
	runNoHistory  bool
)

var runCmd = &cobra.Command{
	Use:   "run <suite-file>",
	Short: "Run an evaluation suite against a target",
	Long: `Run an evaluation suite against a configured target.

The suite file is YAML (a case list or a cases: document) or JSONL, one
case per line. Targets come from the targets file (--targets).

Exit codes:
  0  no case failed (borderline results do not fail the run)
  1  at least one case failed
  2  the run itself failed to execute

Examples:
  agentv run suites/smoke.yaml --target claude --out results.jsonl
  agentv run suites/smoke.yaml --target static --trials 3 --out out.jsonl --out report.xml
  agentv run suites/smoke.yaml --target claude --fail-fast --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runTarget, "target", "", "target name from the targets file (required)")
	runCmd.Flags().StringSliceVar(&runOutputs, "out", nil, "output file (repeatable; format by extension: .jsonl, .json, .yaml, .xml)")
	runCmd.Flags().IntVar(&runTrials, "trials", 1, "independent attempts per case")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "override the target's worker count")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "stop on the first failing case")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-attempt provider timeout (e.g. 90s, 2m)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1, "provider retry budget (-1 = provider default)")
	runCmd.Flags().StringVar(&runStoreDB, "store", defaultStorePath(), "run history database path")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "skip recording the run in the history database")
	_ = runCmd.MarkFlagRequired("target")
}

func runSuite(cmd *cobra.Command, args []string) error {
	suitePath := args[0]

	s, err := suite.Load(suitePath)
	if err != nil {
		return fmt.Errorf("failed to load suite: %w", err)
	}
	fmt.Printf("📄 Suite: %s (%d cases)\n", s.Name, len(s.Cases))

	resolver, err := target.LoadResolver(viper.GetString("targets"), target.OSEnv())
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}

	// Close is idempotent: the deferred call covers error returns, the
	// explicit call below flushes outputs before os.Exit.
	closeOutputs := func() {}
	var out writer.Writer
	if len(runOutputs) > 0 {
		multi, err := writer.NewMulti(runOutputs)
		if err != nil {
			return err
		}
		closeOutputs = func() {
			if err := multi.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  failed to close outputs: %v\n", err)
			}
		}
		defer closeOutputs()
		out = multi
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	d := runner.New(resolver, out, log.Logger())
	summary, err := d.Run(ctx, s, runTarget, runner.Options{
		Trials:         runTrials,
		Workers:        runWorkers,
		FailFast:       runFailFast,
		AttemptTimeout: runTimeout,
		MaxRetries:     runMaxRetries,
	})
	if err != nil {
		closeOutputs()
		log.Sync()
		fmt.Fprintf(os.Stderr, "❌ Run failed: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n✅ %d passed, %d failed (%d borderline) of %d in %s\n",
		summary.Passed, summary.Failed, summary.Borderline, summary.Total,
		summary.Duration.Round(time.Millisecond))

	if !runNoHistory {
		if err := recordRun(s.Name, started, summary); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  failed to record run history: %v\n", err)
		}
	}

	closeOutputs()
	log.Sync()
	os.Exit(summary.ExitCode())
	return nil
}

func recordRun(suiteName string, started time.Time, summary *runner.Summary) error {
	if err := os.MkdirAll(filepath.Dir(runStoreDB), 0o755); err != nil {
		return err
	}
	st, err := store.Open(runStoreDB)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.SaveRun(context.Background(), suiteName, runTarget, started, summary.Results)
	if err != nil {
		return err
	}
	fmt.Printf("💾 Recorded run %s\n", id)
	return nil
}

func defaultStorePath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".agentv", "history.db")
	}
	return "./agentv-history.db"
}

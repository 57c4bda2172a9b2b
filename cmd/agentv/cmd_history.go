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
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/store"
	"github.com/spf13/cobra"
)

var (
	historyStoreDB string
	historyLimit   int
	historyBefore  time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded evaluation runs",
	Long: `Inspect the local run-history database.

Examples:
  agentv history list
  agentv history list --limit 50
  agentv history show <run-id>
  agentv history prune --before 720h`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with per-case results",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the given age",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.PersistentFlags().StringVar(&historyStoreDB, "store", defaultStorePath(), "run history database path")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to list")
	historyPruneCmd.Flags().DurationVar(&historyBefore, "before", 30*24*time.Hour, "delete runs older than this age")
}

func openHistory() (*store.Store, error) {
	st, err := store.Open(historyStoreDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return st, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-12s  %-19s  %s\n", "RUN ID", "SUITE", "TARGET", "STARTED", "PASSED")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %-12s  %-19s  %d/%d (%.0f%%)\n",
			r.ID, r.Suite, r.Target,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Passed, r.Total, r.PassRate*100)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	run, results, err := st.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:     %s\n", run.ID)
	fmt.Printf("Suite:   %s\n", run.Suite)
	fmt.Printf("Target:  %s\n", run.Target)
	fmt.Printf("Started: %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("Result:  %d/%d passed (%.0f%%)\n\n", run.Passed, run.Total, run.PassRate*100)

	for _, r := range results {
		marker := "✓"
		if r.Verdict != eval.VerdictPass {
			marker = "✗"
		}
		name := r.TestID
		if r.Attempt > 0 {
			name = fmt.Sprintf("%s (attempt %d)", r.TestID, r.Attempt)
		}
		fmt.Printf("  %s %-40s %.2f %s\n", marker, name, r.Score, r.Verdict)
		for _, miss := range r.Misses {
			fmt.Printf("      - %s\n", miss)
		}
		if r.Error != "" {
			fmt.Printf("      ! %s\n", r.Error)
		}
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(-historyBefore)
	deleted, err := st.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d run(s) older than %s.\n", deleted, cutoff.Local().Format("2006-01-02"))
	return nil
}

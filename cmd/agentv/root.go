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
	"fmt"
	"os"

	"github.com/agentv-ai/agentv/internal/log"
	"github.com/agentv-ai/agentv/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentv",
	Short: "AgentV - AI agent evaluation harness",
	Long: `AgentV runs evaluation suites against AI agent targets: it schedules
cases across a worker pool, scores candidate answers with declarative
evaluators (LLM judges, code judges, tool-trajectory matchers, metric
gates), and streams results to JSONL, JSON, YAML or JUnit outputs.`,
	Version:      version.Get(),
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().String("targets", "targets.yaml", "targets configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("targets", rootCmd.PersistentFlags().Lookup("targets"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	viper.SetEnvPrefix("AGENTV")
	viper.AutomaticEnv()
}

// initLogging builds the global zap logger from the logging flags.
func initLogging() {
	if err := log.Init(viper.GetString("logging.level"), viper.GetString("logging.format")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package cli contains the commands of the wmqueue binary, which runs
// producers, consumers, and a watermark monitor around a bounded queue.
package cli

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Version is injected at build time.
var Version = "dev"

// Command returns the root command.
func Command() *cobra.Command {
	root := &cobra.Command{
		Use:          "wmqueue",
		Short:        "exercise a bounded queue with watermark monitoring",
		SilenceUsage: true,
	}

	logFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(logFlags)
	root.PersistentFlags().AddGoFlagSet(logFlags)

	root.AddCommand(runCommand(), configCommand(), versionCommand())
	return root
}

func runCommand() *cobra.Command {
	cfg := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run producers and consumers until the duration elapses or an interrupt is received",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.Preflight(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := Run(cmd.Context(), cfg, klog.Background())
			if summary != nil {
				if writeErr := summary.Write(cmd.OutOrStdout()); writeErr != nil && err == nil {
					err = writeErr
				}
			}
			return err
		},
	}
	cfg.Bind(cmd.Flags())
	return cmd
}

func configCommand() *cobra.Command {
	cfg := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.Preflight(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cfg.Bind(cmd.Flags())
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wmqueue %s (config schema %s)\n",
				Version, SchemaVersion)
			return err
		},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergii-nosachenko/retrospecta/pkg/syncclient"
	"github.com/sergii-nosachenko/retrospecta/pkg/ux"
)

var decideFlags struct {
	situation string
	decision  string
	reasoning string
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Record a decision and queue it for analysis",
	Example: `  retrospecta decide --situation "Two job offers" \
    --decision "Took the remote one" --reasoning "More time with family"`,
	RunE: runDecide,
}

var reanalyzeCmd = &cobra.Command{
	Use:   "reanalyze <id>",
	Short: "Queue a decision for another analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runReanalyze,
}

func init() {
	f := decideCmd.Flags()
	f.StringVar(&decideFlags.situation, "situation", "", "what was going on")
	f.StringVar(&decideFlags.decision, "decision", "", "what you decided")
	f.StringVar(&decideFlags.reasoning, "reasoning", "", "why (optional)")
	_ = decideCmd.MarkFlagRequired("situation")
	_ = decideCmd.MarkFlagRequired("decision")
}

func newAPIClient() (*syncclient.Client, error) {
	return syncclient.NewClient(cfg.Client.ServerURL, cfg.Client.Token, nil)
}

func runDecide(cmd *cobra.Command, _ []string) error {
	req := syncclient.CreateRequest{
		Situation: strings.TrimSpace(decideFlags.situation),
		Decision:  strings.TrimSpace(decideFlags.decision),
		Reasoning: strings.TrimSpace(decideFlags.reasoning),
	}
	if req.Situation == "" || req.Decision == "" {
		return errors.New("--situation and --decision must not be blank")
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	rec, err := client.Create(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("create decision: %w", err)
	}
	p := ux.NewPrinter(cmd.OutOrStdout(), ux.Stdout().Mode())
	p.Success(fmt.Sprintf("recorded %s (%s)", rec.ID, rec.Status))
	return nil
}

func runReanalyze(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	rec, err := client.Reanalyze(cmd.Context(), args[0])
	if err != nil {
		if syncclient.IsNotFound(err) {
			return fmt.Errorf("decision %s not found", args[0])
		}
		return fmt.Errorf("reanalyze: %w", err)
	}
	p := ux.NewPrinter(cmd.OutOrStdout(), ux.Stdout().Mode())
	p.Success(fmt.Sprintf("queued %s (%s)", rec.ID, rec.Status))
	return nil
}

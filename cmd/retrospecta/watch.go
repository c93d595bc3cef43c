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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/syncclient"
	"github.com/sergii-nosachenko/retrospecta/pkg/ux"
)

var watchFlags struct {
	sortBy      string
	sortOrder   string
	types       []string
	biases      []string
	page        int
	interactive bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the decision stream and announce finished analyses",
	Long: `watch subscribes to the journal stream and prints a line whenever an
analysis completes or fails, plus the number of decisions still pending.
Send SIGHUP to reconnect after the connection is lost.

With --interactive, commands read from stdin are applied to the local view
at once and confirmed by the journal afterwards:

  new <situation> | <decision>
  read <id>
  reanalyze <id>
  delete <id>`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.sortBy, "sort-by", string(decision.DefaultSortField), "createdAt, updatedAt, status, decisionType or analysisAttempts")
	f.StringVar(&watchFlags.sortOrder, "sort-order", string(decision.SortDesc), "asc or desc")
	f.StringSliceVar(&watchFlags.types, "type", nil, "only these decision types")
	f.StringSliceVar(&watchFlags.biases, "bias", nil, "only decisions with these biases")
	f.IntVar(&watchFlags.page, "page", 1, "page to follow")
	f.BoolVarP(&watchFlags.interactive, "interactive", "i", false, "read commands from stdin")
}

func watchFilter() (decision.FilterSpec, error) {
	filter := decision.DefaultFilterSpec()
	filter.SortBy = decision.SortField(watchFlags.sortBy)
	filter.SortOrder = decision.SortOrder(watchFlags.sortOrder)
	filter.DecisionTypes = watchFlags.types
	filter.Biases = watchFlags.biases
	filter.Page = watchFlags.page
	filter.PageSize = cfg.Client.PageSize
	if err := filter.Validate(); err != nil {
		return decision.FilterSpec{}, err
	}
	return filter, nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger("watch")
	if err != nil {
		return err
	}
	defer logger.Close()

	filter, err := watchFilter()
	if err != nil {
		return err
	}
	consumer, err := syncclient.NewConsumer(syncclient.ConsumerConfig{
		BaseURL: cfg.Client.ServerURL,
		Token:   cfg.Client.Token,
		Filter:  filter,
		Logger:  logger.Slog(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				consumer.Refresh()
			}
		}
	}()

	w := newWatcher(ux.Stdout())
	w.refresh = consumer.Refresh
	w.printer.Title("retrospecta · " + cfg.Client.ServerURL)

	var lines <-chan string
	if watchFlags.interactive {
		if w.api, err = newAPIClient(); err != nil {
			return err
		}
		lines = readLines(ctx, cmd.InOrStdin())
		w.printer.Info(interactiveHelp)
	}

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	msgs := consumer.Messages()
	results := make(chan outcome, 8)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return <-done
			}
			w.handle(msg)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			w.exec(ctx, line, results)
		case out := <-results:
			w.settle(out)
		}
	}
}

// watcher renders consumer messages through a Session. In interactive
// mode it also applies local commands to the same session; all of its
// methods run on the watch loop goroutine.
type watcher struct {
	session *syncclient.Session
	printer *ux.Printer
	api     mutationAPI
	refresh func()
	pending int
	lost    bool
}

func newWatcher(p *ux.Printer) *watcher {
	return &watcher{session: syncclient.NewSession(), printer: p, pending: -1}
}

func (w *watcher) handle(msg syncclient.Message) {
	switch msg.Kind {
	case syncclient.MessageState:
		w.handleState(msg)
	case syncclient.MessageEvent:
		change := w.session.Handle(msg.Event)
		if change.Error != "" {
			w.printer.Warning("server: " + change.Error)
		}
		if msg.Event.Type == decision.EventPending {
			change.Pending = true
		}
		w.report(change)
	}
}

// report prints the notifications of a change and the pending count when
// it moved.
func (w *watcher) report(change syncclient.Change) {
	for _, n := range change.Notifications {
		w.announce(n)
	}
	count := w.session.PendingCount()
	if change.Pending && count != w.pending {
		w.pending = count
		w.printer.Info(fmt.Sprintf("%d pending", count))
	}
}

func (w *watcher) handleState(msg syncclient.Message) {
	switch msg.State {
	case syncclient.StateOpen:
		if w.lost {
			w.lost = false
			w.printer.Success("reconnected")
		}
	case syncclient.StateReconnecting:
		w.lost = true
		if msg.Err != nil {
			w.printer.Warning("disconnected: " + msg.Err.Error())
		}
	case syncclient.StateFailed:
		w.lost = true
		text := syncclient.ErrConnectionLost.Error()
		if msg.Err != nil && !errors.Is(msg.Err, syncclient.ErrConnectionLost) {
			text = msg.Err.Error()
		}
		w.printer.Error(text + " (send SIGHUP to retry)")
	}
}

func (w *watcher) announce(n syncclient.Notification) {
	rec := n.Record
	switch n.Kind {
	case syncclient.NotifyCompleted:
		lines := []string{summarize(rec.Decision)}
		if rec.DecisionType != nil {
			lines = append(lines, "type: "+*rec.DecisionType)
		}
		if len(rec.Biases) > 0 {
			lines = append(lines, "biases: "+strings.Join(rec.Biases, ", "))
		}
		w.printer.Box("Analysis Complete", lines...)
	case syncclient.NotifyFailed:
		text := "analysis failed: " + summarize(rec.Decision)
		if rec.ErrorMessage != nil {
			text += " (" + *rec.ErrorMessage + ")"
		}
		w.printer.Error(text)
	}
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return text
}

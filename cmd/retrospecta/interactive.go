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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/syncclient"
	"github.com/sergii-nosachenko/retrospecta/pkg/validation"
)

const interactiveHelp = "commands: new <situation> | <decision>, read <id>, reanalyze <id>, delete <id>, help"

// mutationAPI is the part of the REST client used by interactive watch.
type mutationAPI interface {
	Create(ctx context.Context, req syncclient.CreateRequest) (*decision.Record, error)
	Reanalyze(ctx context.Context, id string) (*decision.Record, error)
	MarkRead(ctx context.Context, id string) (*decision.Record, error)
	Delete(ctx context.Context, id string) error
}

var _ mutationAPI = (*syncclient.Client)(nil)

type verb string

const (
	verbNew       verb = "new"
	verbRead      verb = "read"
	verbReanalyze verb = "reanalyze"
	verbDelete    verb = "delete"
	verbHelp      verb = "help"
)

type command struct {
	verb   verb
	id     string
	create syncclient.CreateRequest
}

// parseCommand reads one interactive line.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch v := verb(strings.ToLower(word)); v {
	case verbHelp:
		return command{verb: v}, nil
	case verbNew:
		situation, choice, ok := strings.Cut(rest, "|")
		situation, choice = strings.TrimSpace(situation), strings.TrimSpace(choice)
		if !ok || situation == "" || choice == "" {
			return command{}, errors.New("usage: new <situation> | <decision>")
		}
		return command{verb: v, create: syncclient.CreateRequest{Situation: situation, Decision: choice}}, nil
	case verbRead, verbReanalyze, verbDelete:
		if err := validation.ValidateDecisionID(rest); err != nil {
			return command{}, fmt.Errorf("usage: %s <id>: %w", v, err)
		}
		return command{verb: v, id: rest}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", word)
	}
}

// outcome is the server's answer to one command.
type outcome struct {
	cmd command
	rec *decision.Record
	err error
}

// readLines sends each non-blank input line until r is exhausted or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// exec applies the optimistic half of a command to the session and starts
// the REST call. The answer arrives on results and is passed to settle.
func (w *watcher) exec(ctx context.Context, line string, results chan<- outcome) {
	cmd, err := parseCommand(line)
	if err != nil {
		w.printer.Warning(err.Error())
		return
	}

	var change syncclient.Change
	switch cmd.verb {
	case verbHelp:
		w.printer.Info(interactiveHelp)
		return
	case verbRead:
		change = w.session.MarkRead(cmd.id)
	case verbReanalyze:
		change = w.session.Reanalyze(cmd.id)
	case verbDelete:
		change = w.session.Delete(cmd.id)
	}
	w.report(change)

	go func() {
		out := w.call(ctx, cmd)
		select {
		case results <- out:
		case <-ctx.Done():
		}
	}()
}

func (w *watcher) call(ctx context.Context, cmd command) outcome {
	out := outcome{cmd: cmd}
	switch cmd.verb {
	case verbNew:
		out.rec, out.err = w.api.Create(ctx, cmd.create)
	case verbRead:
		out.rec, out.err = w.api.MarkRead(ctx, cmd.id)
	case verbReanalyze:
		out.rec, out.err = w.api.Reanalyze(ctx, cmd.id)
	case verbDelete:
		out.err = w.api.Delete(ctx, cmd.id)
	}
	return out
}

// settle applies the server's answer. A rejected mutation is reverted; a
// rejected delete also refreshes the stream so the record comes back.
func (w *watcher) settle(out outcome) {
	cmd := out.cmd
	if out.err != nil {
		w.printer.Error(fmt.Sprintf("%s failed: %s", cmd.verb, out.err))
		if cmd.verb == verbNew {
			return
		}
		w.report(w.session.Revert(cmd.id))
		if cmd.verb == verbDelete && w.refresh != nil {
			w.refresh()
		}
		return
	}

	switch cmd.verb {
	case verbNew:
		w.report(w.session.Create(out.rec))
		w.printer.Success(fmt.Sprintf("recorded %s (%s)", out.rec.ID, out.rec.Status))
	case verbRead:
		w.printer.Success("marked " + cmd.id + " read")
	case verbReanalyze:
		w.printer.Success(fmt.Sprintf("queued %s (%s)", cmd.id, out.rec.Status))
	case verbDelete:
		w.printer.Success("deleted " + cmd.id)
	}
}

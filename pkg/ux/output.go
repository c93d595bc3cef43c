// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the retrospecta CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // titles
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled renders colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain renders "LEVEL: text" lines, for pipes and logs.
	ModePlain
)

// DetectMode returns ModeStyled when f is a terminal.
func DetectMode(f *os.File) Mode {
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes CLI output in one Mode. Safe for concurrent use.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Stdout returns a printer for os.Stdout with the detected mode.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectMode(os.Stdout))
}

// Mode returns the render mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

// Title prints a styled title. Plain mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		return
	}
	p.println(Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.line(IconSuccess, Styles.Success, "OK", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.line(IconWarning, Styles.Warning, "WARN", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.line(IconError, Styles.Error, "ERROR", text)
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModePlain {
		p.println(text)
		return
	}
	p.println(Styles.Muted.Render("│") + " " + text)
}

func (p *Printer) line(icon Icon, style lipgloss.Style, label, text string) {
	if p.mode == ModePlain {
		p.println(label + ": " + text)
		return
	}
	p.println(style.Render(string(icon)) + " " + style.Render(text))
}

// Box prints a titled block of lines.
func (p *Printer) Box(title string, lines ...string) {
	if p.mode == ModePlain {
		p.println(title + ": " + strings.Join(lines, "; "))
		return
	}
	body := Styles.Title.Render(title)
	if len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n")
	}
	p.println(Styles.Box.Width(60).Render(body))
}

// Status renders an analysis status word with its icon and color.
func (p *Printer) Status(status string) string {
	if p.mode == ModePlain {
		return status
	}
	switch status {
	case "COMPLETED":
		return Styles.Success.Render(string(IconSuccess) + " " + status)
	case "FAILED":
		return Styles.Error.Render(string(IconError) + " " + status)
	default:
		return Styles.Muted.Render(string(IconPending) + " " + status)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// ErrInsufficientContent is returned when a record has too little text to
// classify.
var ErrInsufficientContent = errors.New("not enough content to analyze")

// Result is the outcome of a successful analysis.
type Result struct {
	DecisionType string
	Biases       []string
}

// Analyzer classifies a decision and detects cognitive biases.
//
// # Description
//
// Called by the Worker for every claimed record. An error marks the record
// FAILED with err.Error() as its message, so errors should be short and fit
// for display.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, rec *decision.Record) (Result, error)
}

type keywordRule struct {
	label    string
	keywords []string
}

// Rules are evaluated in order; the order is the order of detected biases
// and the tie-break for decision types.
var (
	defaultTypeRules = []keywordRule{
		{"career", []string{"job", "offer", "promotion", "salary", "manager", "career", "interview"}},
		{"financial", []string{"invest", "money", "buy", "loan", "savings", "stock", "mortgage"}},
		{"relationship", []string{"partner", "friend", "family", "marriage", "relationship"}},
		{"health", []string{"doctor", "diet", "exercise", "health", "sleep"}},
		{"education", []string{"course", "degree", "study", "university", "learn"}},
	}

	defaultBiasRules = []keywordRule{
		{"anchoring", []string{"first offer", "initial price", "anchor", "original price"}},
		{"sunk cost fallacy", []string{"already invested", "already spent", "sunk", "too far to"}},
		{"confirmation bias", []string{"confirms", "proves i was right", "as i expected", "knew it"}},
		{"overconfidence", []string{"definitely", "certain", "guaranteed", "can't fail", "no doubt"}},
		{"loss aversion", []string{"afraid to lose", "can't afford to lose", "risk losing"}},
		{"bandwagon effect", []string{"everyone", "everybody", "all my friends"}},
		{"status quo bias", []string{"keep things", "as it is", "always done"}},
	}
)

// DefaultDecisionType is assigned when no type rule matches.
const DefaultDecisionType = "personal"

// KeywordAnalyzer is a deterministic local analyzer based on keyword tables.
//
// # Description
//
// Scans situation, decision and reasoning case-insensitively. The decision
// type is the rule with the most keyword hits (DefaultDecisionType when
// none). Every bias rule with at least one hit is reported.
//
// # Limitations
//
//   - Substring matching only; no stemming or negation handling.
type KeywordAnalyzer struct {
	// MinContentLength is the minimum trimmed length of situation plus
	// decision. Default 10.
	MinContentLength int

	typeRules []keywordRule
	biasRules []keywordRule
}

// NewKeywordAnalyzer returns an analyzer with the built-in tables.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{
		MinContentLength: 10,
		typeRules:        defaultTypeRules,
		biasRules:        defaultBiasRules,
	}
}

func (a *KeywordAnalyzer) Analyze(ctx context.Context, rec *decision.Record) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	content := strings.TrimSpace(rec.Situation) + strings.TrimSpace(rec.Decision)
	if len(content) < a.MinContentLength {
		return Result{}, ErrInsufficientContent
	}

	text := strings.ToLower(strings.Join([]string{rec.Situation, rec.Decision, rec.Reasoning}, "\n"))

	result := Result{DecisionType: DefaultDecisionType, Biases: []string{}}
	best := 0
	for _, rule := range a.typeRules {
		if hits := countHits(text, rule.keywords); hits > best {
			best = hits
			result.DecisionType = rule.label
		}
	}
	for _, rule := range a.biasRules {
		if countHits(text, rule.keywords) > 0 {
			result.Biases = append(result.Biases, rule.label)
		}
	}
	return result, nil
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

var _ Analyzer = (*KeywordAnalyzer)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sergii-nosachenko/retrospecta/pkg/validation"
)

// ErrInvalidFilter is returned when subscription parameters cannot be parsed.
var ErrInvalidFilter = errors.New("invalid filter")

// SortField names a sortable record field.
type SortField string

const (
	SortByCreatedAt        SortField = "createdAt"
	SortByUpdatedAt        SortField = "updatedAt"
	SortByStatus           SortField = "status"
	SortByDecisionType     SortField = "decisionType"
	SortByAnalysisAttempts SortField = "analysisAttempts"
)

// DefaultSortField is used when sortBy is missing or unrecognized.
const DefaultSortField = SortByCreatedAt

// SortOrder is the sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	// DefaultPageSize is the page size used when none is given.
	DefaultPageSize = 10

	// MaxPageSize bounds a single page.
	MaxPageSize = 100
)

const dateOnlyLayout = "2006-01-02"

var filterValidate = validator.New()

// FilterSpec selects, orders and paginates an owner's decisions.
//
// # Description
//
// FilterSpec is an immutable value owned by the client. It is encoded into
// the stream subscription query string and decoded on the server into the
// store query. The zero value is not valid; use DefaultFilterSpec or
// ParseFilterSpec.
//
// # Fields
//
//   - SortBy, SortOrder: Ordering. Ties break on ID.
//   - DecisionTypes: Keep records whose DecisionType is in the set.
//   - Biases: Keep records sharing at least one bias with the set.
//   - DateFrom, DateTo: Inclusive CreatedAt bounds.
//   - Page: 1-based page number.
//   - PageSize: Records per page, 1..MaxPageSize.
type FilterSpec struct {
	SortBy        SortField  `validate:"oneof=createdAt updatedAt status decisionType analysisAttempts"`
	SortOrder     SortOrder  `validate:"oneof=asc desc"`
	DecisionTypes []string   `validate:"dive,required"`
	Biases        []string   `validate:"dive,required"`
	DateFrom      *time.Time
	DateTo        *time.Time `validate:"omitempty,gtefield=DateFrom"`
	Page          int        `validate:"gte=1"`
	PageSize      int        `validate:"gte=1,lte=100"`
}

// DefaultFilterSpec returns the first page of the newest decisions.
func DefaultFilterSpec() FilterSpec {
	return FilterSpec{
		SortBy:    DefaultSortField,
		SortOrder: SortDesc,
		Page:      1,
		PageSize:  DefaultPageSize,
	}
}

// Validate checks ranges and field relations.
func (f FilterSpec) Validate() error {
	if f.DateFrom == nil && f.DateTo != nil {
		// gtefield cannot compare against a nil pointer.
		f.DateFrom = &time.Time{}
	}
	if err := filterValidate.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return nil
}

// Offset returns the number of records skipped before the page.
func (f FilterSpec) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// ParseFilterSpec decodes subscription query parameters.
//
// # Description
//
// Recognized keys: sortBy, sortOrder, repeated decisionTypes, repeated
// biases, dateFrom, dateTo, page, pageSize. Unrecognized sortBy and sortOrder
// values fall back to their defaults. Dates accept RFC 3339 or YYYY-MM-DD; a
// date-only dateTo covers the whole day.
//
// # Inputs
//
//   - values: Parsed query string.
//
// # Outputs
//
//   - FilterSpec: Validated filter.
//   - error: Wraps ErrInvalidFilter for malformed numbers, dates or ranges.
func ParseFilterSpec(values url.Values) (FilterSpec, error) {
	f := DefaultFilterSpec()

	if sf := SortField(values.Get("sortBy")); sf.known() {
		f.SortBy = sf
	}
	switch SortOrder(strings.ToLower(values.Get("sortOrder"))) {
	case SortAsc:
		f.SortOrder = SortAsc
	case SortDesc:
		f.SortOrder = SortDesc
	}

	var err error
	if f.DecisionTypes, err = validation.SanitizeTags(nonEmpty(values["decisionTypes"])); err != nil {
		return FilterSpec{}, fmt.Errorf("%w: decisionTypes: %v", ErrInvalidFilter, err)
	}
	if f.Biases, err = validation.SanitizeTags(nonEmpty(values["biases"])); err != nil {
		return FilterSpec{}, fmt.Errorf("%w: biases: %v", ErrInvalidFilter, err)
	}

	if raw := values.Get("dateFrom"); raw != "" {
		if f.DateFrom, err = parseDate(raw, false); err != nil {
			return FilterSpec{}, fmt.Errorf("%w: dateFrom: %v", ErrInvalidFilter, err)
		}
	}
	if raw := values.Get("dateTo"); raw != "" {
		if f.DateTo, err = parseDate(raw, true); err != nil {
			return FilterSpec{}, fmt.Errorf("%w: dateTo: %v", ErrInvalidFilter, err)
		}
	}
	if raw := values.Get("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			return FilterSpec{}, fmt.Errorf("%w: page: %v", ErrInvalidFilter, err)
		}
	}
	if raw := values.Get("pageSize"); raw != "" {
		if f.PageSize, err = strconv.Atoi(raw); err != nil {
			return FilterSpec{}, fmt.Errorf("%w: pageSize: %v", ErrInvalidFilter, err)
		}
	}

	if err := f.Validate(); err != nil {
		return FilterSpec{}, err
	}
	return f, nil
}

// Values encodes the filter as subscription query parameters.
//
// Defaults are still written so the server never has to guess.
func (f FilterSpec) Values() url.Values {
	v := url.Values{}
	v.Set("sortBy", string(f.SortBy))
	v.Set("sortOrder", string(f.SortOrder))
	for _, t := range f.DecisionTypes {
		v.Add("decisionTypes", t)
	}
	for _, b := range f.Biases {
		v.Add("biases", b)
	}
	if f.DateFrom != nil {
		v.Set("dateFrom", f.DateFrom.UTC().Format(time.RFC3339Nano))
	}
	if f.DateTo != nil {
		v.Set("dateTo", f.DateTo.UTC().Format(time.RFC3339Nano))
	}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("pageSize", strconv.Itoa(f.PageSize))
	return v
}

// Matches reports whether rec passes the type, bias and date filters.
// Pagination is not considered.
func (f FilterSpec) Matches(rec *Record) bool {
	if len(f.DecisionTypes) > 0 {
		if rec.DecisionType == nil || !slices.Contains(f.DecisionTypes, *rec.DecisionType) {
			return false
		}
	}
	if len(f.Biases) > 0 {
		if !slices.ContainsFunc(rec.Biases, func(b string) bool {
			return slices.Contains(f.Biases, b)
		}) {
			return false
		}
	}
	if f.DateFrom != nil && rec.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && rec.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

// Compare orders a before b according to the filter, returning -1, 0 or 1.
// Equal sort keys fall back to ID so the order is total.
func (f FilterSpec) Compare(a, b *Record) int {
	c := compareField(f.SortBy, a, b)
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if f.SortOrder == SortDesc {
		return -c
	}
	return c
}

func compareField(field SortField, a, b *Record) int {
	switch field {
	case SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case SortByDecisionType:
		return strings.Compare(deref(a.DecisionType), deref(b.DecisionType))
	case SortByAnalysisAttempts:
		switch {
		case a.AnalysisAttempts < b.AnalysisAttempts:
			return -1
		case a.AnalysisAttempts > b.AnalysisAttempts:
			return 1
		}
		return 0
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s SortField) known() bool {
	switch s {
	case SortByCreatedAt, SortByUpdatedAt, SortByStatus, SortByDecisionType, SortByAnalysisAttempts:
		return true
	}
	return false
}

func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

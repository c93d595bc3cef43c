// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that reach store
// keys and queries.
//
// Decision ids become badger key segments and sqlite parameters; filter tags
// are matched against stored analysis labels. Both are restricted to a small
// alphabet so that a malformed value is rejected at the edge.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches decision ids: UUIDs and other url-safe tokens.
// Max length: 64 characters
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// tagPattern matches decision types and bias names such as
// "sunk cost fallacy" or "status-quo".
var tagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9 _-]{0,63}$`)

// ValidateDecisionID validates a decision id from a request path.
//
// Valid ids:
//   - 1-64 characters
//   - Letters and digits, plus "_" and "-" after the first character
//
// Example:
//
//	if err := validation.ValidateDecisionID(c.Param("id")); err != nil {
//	    c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
//	    return
//	}
func ValidateDecisionID(id string) error {
	if id == "" {
		return fmt.Errorf("decision id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid decision id %q", id)
	}
	return nil
}

// SanitizeTag lowercases and trims a filter tag, then validates it.
func SanitizeTag(tag string) (string, error) {
	clean := strings.ToLower(strings.Join(strings.Fields(tag), " "))
	if clean == "" {
		return "", fmt.Errorf("tag cannot be empty")
	}
	if !tagPattern.MatchString(clean) {
		return "", fmt.Errorf("invalid tag format: %q (lowercase letters, digits, spaces, '_' or '-', up to 64 chars)", tag)
	}
	return clean, nil
}

// SanitizeTags applies SanitizeTag to every tag and reports all invalid
// ones at once.
func SanitizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return tags, nil
	}
	out := make([]string, 0, len(tags))
	var invalid []string
	for _, t := range tags {
		clean, err := SanitizeTag(t)
		if err != nil {
			invalid = append(invalid, t)
			continue
		}
		out = append(out, clean)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid tags: %q", invalid)
	}
	return out, nil
}

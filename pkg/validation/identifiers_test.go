// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDecisionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "3f2b8c1e-6a4d-4e1b-9c77-0d1e2f3a4b5c", false},
		{"short", "d1", false},
		{"underscore", "rec_42", false},
		{"max length", strings.Repeat("a", 64), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"path traversal", "../other", true},
		{"key separator", "owner/id", true},
		{"leading hyphen", "-abc", true},
		{"sql quote", "x' OR '1'='1", true},
		{"newline", "d1\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDecisionID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeTag(t *testing.T) {
	got, err := SanitizeTag("  Sunk   Cost Fallacy ")
	require.NoError(t, err)
	assert.Equal(t, "sunk cost fallacy", got)

	got, err = SanitizeTag("status-quo")
	require.NoError(t, err)
	assert.Equal(t, "status-quo", got)

	for _, bad := range []string{"", "   ", "career;drop", "%", strings.Repeat("x", 65)} {
		_, err := SanitizeTag(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestSanitizeTags(t *testing.T) {
	got, err := SanitizeTags([]string{"Career", "finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"career", "finance"}, got)

	_, err = SanitizeTags([]string{"ok", "bad!", "worse?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad!")
	assert.Contains(t, err.Error(), "worse?")

	got, err = SanitizeTags(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

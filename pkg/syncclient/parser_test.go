// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncclient

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

func readAll(t *testing.T, input string) ([]Frame, error) {
	t.Helper()
	fr := NewFrameReader(strings.NewReader(input))
	var frames []Frame
	for {
		f, err := fr.Next()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestFrameReader_DataAndKeepAlive(t *testing.T) {
	input := "data: {\"type\":\"pending\",\"count\":0,\"decisions\":[]}\n\n" +
		": keepalive\n\n" +
		"data:{\"type\":\"error\",\"message\":\"x\"}\r\n\r\n"

	frames, err := readAll(t, input)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 3)

	assert.False(t, frames[0].Comment)
	assert.JSONEq(t, `{"type":"pending","count":0,"decisions":[]}`, string(frames[0].Data))
	assert.True(t, frames[1].Comment)
	assert.Equal(t, "keepalive", string(frames[1].Data))
	assert.JSONEq(t, `{"type":"error","message":"x"}`, string(frames[2].Data))
}

func TestFrameReader_MultiLineAndIgnoredFields(t *testing.T) {
	input := "event: update\nid: 7\nretry: 100\ndata: line1\ndata: line2\n\n"
	frames, err := readAll(t, input)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 1)
	assert.Equal(t, "line1\nline2", string(frames[0].Data))
}

func TestFrameReader_BlankLinesAlone(t *testing.T) {
	frames, err := readAll(t, "\n\n\n")
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, frames)
}

func TestFrameReader_PartialFrame(t *testing.T) {
	frames, err := readAll(t, "data: {\"type\":\"pending\"")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Empty(t, frames)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(Frame{Data: []byte(`{"type":"pending","count":1,"decisions":[{"id":"a1","status":"PENDING"}]}`)})
	require.NoError(t, err)
	assert.Equal(t, decision.EventPending, ev.Type)
	require.NotNil(t, ev.Pending)
	assert.Equal(t, 1, ev.Pending.Count)
	assert.Equal(t, "a1", ev.Pending.Decisions[0].ID)

	_, err = ParseEvent(Frame{Data: []byte("keepalive"), Comment: true})
	assert.Error(t, err)

	_, err = ParseEvent(Frame{Data: []byte("{not json")})
	assert.Error(t, err)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
)

// Frame is one dispatched unit of the event stream.
type Frame struct {
	// Data is the joined payload of the frame's data lines.
	Data []byte

	// Comment is set for comment frames such as ": keepalive".
	Comment bool
}

// FrameReader splits an event stream into frames.
//
// # Description
//
// Data lines ("data:" with an optional single space) accumulate until a
// blank line dispatches them. Several data lines are joined with "\n".
// Comment lines (leading ":") are returned immediately as comment frames.
// "event:", "id:" and "retry:" fields are ignored. CRLF and LF line endings
// are accepted. A partial frame at end of input is discarded.
type FrameReader struct {
	r    *bufio.Reader
	data [][]byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next frame. It returns io.EOF at the end of input and
// io.ErrUnexpectedEOF if input ends inside a frame.
func (fr *FrameReader) Next() (Frame, error) {
	for {
		line, err := fr.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && (len(line) > 0 || len(fr.data) > 0) {
				fr.data = nil
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if len(fr.data) == 0 {
				continue
			}
			frame := Frame{Data: bytes.Join(fr.data, []byte("\n"))}
			fr.data = nil
			return frame, nil
		case line[0] == ':':
			return Frame{Data: bytes.TrimSpace(line[1:]), Comment: true}, nil
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		fr.data = append(fr.data, append([]byte(nil), value...))
	}
}

// ParseEvent decodes a data frame into a stream event.
func ParseEvent(frame Frame) (decision.StreamEvent, error) {
	if frame.Comment {
		return decision.StreamEvent{}, fmt.Errorf("comment frame has no event")
	}
	var ev decision.StreamEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return decision.StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	return ev, nil
}

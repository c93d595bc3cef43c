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
	"errors"
	"fmt"
	"time"
)

// Reconnect policy.
const (
	// BaseBackoff is the delay before the first retry.
	BaseBackoff = 1000 * time.Millisecond

	// MaxBackoff caps any single retry delay.
	MaxBackoff = 30000 * time.Millisecond

	// MaxRetries is the number of retries before the connection is declared lost.
	MaxRetries = 5
)

var (
	// ErrConnectionLost is surfaced once retries are exhausted. Only a manual
	// refresh reconnects after it.
	ErrConnectionLost = errors.New("connection lost, please refresh")

	// ErrInvalidTransition is returned when a transition is not allowed from
	// the current state.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// State is a stream connection state.
type State int

const (
	// StateIdle is the state before the first Connect.
	StateIdle State = iota

	// StateConnecting means a request is in flight.
	StateConnecting

	// StateOpen means the stream answered and events are flowing.
	StateOpen

	// StateReconnecting means a retry is scheduled after a failure.
	StateReconnecting

	// StateClosed is final; the consumer was stopped.
	StateClosed

	// StateFailed means retries are exhausted. Only Refresh leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backoff returns min(BaseBackoff * 2^attempt, MaxBackoff).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// Reconnector is the connection state machine of a stream consumer.
//
// # Description
//
//	Idle ──Connect──► Connecting ──Opened──► Open
//	                      ▲                   │
//	                      │ Connect        Failed
//	                      │                   ▼
//	                 Reconnecting ◄──────(retry left)
//	                                          │
//	                                    (exhausted)──► Failed
//
// Refresh moves any state except Closed to Connecting with the attempt
// counter reset. Close is final.
//
// # Thread Safety
//
// Not safe for concurrent use; owned by the consumer goroutine.
type Reconnector struct {
	state   State
	attempt int
	err     error
}

// NewReconnector returns a machine in StateIdle.
func NewReconnector() *Reconnector {
	return &Reconnector{state: StateIdle}
}

// State returns the current state.
func (r *Reconnector) State() State { return r.state }

// Attempt returns the number of consecutive failures since the last open.
func (r *Reconnector) Attempt() int { return r.attempt }

// Err returns the error surfaced to the caller, if any.
func (r *Reconnector) Err() error { return r.err }

// Connect starts a connection attempt from Idle or Reconnecting.
func (r *Reconnector) Connect() error {
	switch r.state {
	case StateIdle, StateReconnecting:
		r.state = StateConnecting
		return nil
	default:
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, r.state)
	}
}

// Opened records a successful open: attempts reset and the surfaced error
// is cleared.
func (r *Reconnector) Opened() error {
	if r.state != StateConnecting {
		return fmt.Errorf("%w: open from %s", ErrInvalidTransition, r.state)
	}
	r.state = StateOpen
	r.attempt = 0
	r.err = nil
	return nil
}

// Failed records a transport failure.
//
// # Outputs
//
//   - time.Duration: Delay before the next Connect.
//   - bool: False when no retry is scheduled. The state is then Failed with
//     ErrConnectionLost surfaced, or unchanged if already Closed or Failed.
func (r *Reconnector) Failed(cause error) (time.Duration, bool) {
	switch r.state {
	case StateClosed, StateFailed:
		return 0, false
	}
	if r.attempt >= MaxRetries {
		r.state = StateFailed
		if cause != nil {
			r.err = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		} else {
			r.err = ErrConnectionLost
		}
		return 0, false
	}
	delay := Backoff(r.attempt)
	r.attempt++
	r.state = StateReconnecting
	r.err = cause
	return delay, true
}

// Refresh requests an immediate reconnect with the attempt counter reset.
func (r *Reconnector) Refresh() error {
	if r.state == StateClosed {
		return fmt.Errorf("%w: refresh from %s", ErrInvalidTransition, r.state)
	}
	r.state = StateConnecting
	r.attempt = 0
	r.err = nil
	return nil
}

// Close ends the machine.
func (r *Reconnector) Close() {
	r.state = StateClosed
}

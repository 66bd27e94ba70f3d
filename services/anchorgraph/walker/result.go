// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"encoding/json"
)

// Status is the outcome class of a spawn.
type Status int

const (
	// StatusOK means the walker exhausted its queue or disengaged.
	StatusOK Status = iota

	// StatusError means validation, target resolution or an ability failed.
	StatusError

	// StatusCancelled means the context ended mid-traversal.
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Termination says how a traversal that ran to its end stopped.
type Termination int

const (
	// TerminationNone means the traversal did not reach a natural end.
	TerminationNone Termination = iota

	// TerminationExhausted means the visit queue ran dry.
	TerminationExhausted

	// TerminationDisengaged means an ability returned Disengage.
	TerminationDisengaged
)

// String returns the termination name.
func (t Termination) String() string {
	switch t {
	case TerminationExhausted:
		return "exhausted"
	case TerminationDisengaged:
		return "disengaged"
	default:
		return "none"
	}
}

// Result is the outcome of one spawn.
//
// Reports holds every report emitted before termination, in emission
// order, including on error and cancellation.
type Result struct {
	Reports     []any
	Status      Status
	Termination Termination
	Err         error
	Steps       int
}

// OK reports whether the spawn succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// resultJSON is the wire form of a Result.
type resultJSON struct {
	Status      string `json:"status"`
	Termination string `json:"termination"`
	Steps       int    `json:"steps"`
	Reports     []any  `json:"reports"`
	Error       string `json:"error,omitempty"`
}

// JSON encodes the result for API responses and the CLI.
func (r Result) JSON() ([]byte, error) {
	out := resultJSON{
		Status:      r.Status.String(),
		Termination: r.Termination.String(),
		Steps:       r.Steps,
		Reports:     r.Reports,
	}
	if out.Reports == nil {
		out.Reports = []any{}
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

package treerender

import "fmt"

// Status is the outcome code of render actions and render executions.
//
// The engine only ever interprets the failure codes below; effects may
// return their own codes at or above StatusUserBase and the engine passes
// them through unchanged to whoever launched the render.
type Status int

const (
	// StatusOK indicates the action succeeded.
	StatusOK Status = iota

	// StatusFailed indicates the action failed for a reason other than
	// cancellation. The first failure recorded on a render sticks.
	StatusFailed

	// StatusAborted indicates the action was cancelled because the render
	// was aborted.
	StatusAborted

	// StatusOutOfMemory indicates the action could not allocate the memory
	// it needed. Treated as a failure.
	StatusOutOfMemory
)

// StatusUserBase is the first code available to effects for domain-specific
// results. Codes at or above this value are never produced by the engine and
// are not failures.
const StatusUserBase Status = 100

// IsFailure reports whether s is one of the failure codes. Domain codes
// (>= StatusUserBase) are not failures.
func IsFailure(s Status) bool {
	switch s {
	case StatusFailed, StatusAborted, StatusOutOfMemory:
		return true
	default:
		return false
	}
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusOutOfMemory:
		return "out-of-memory"
	default:
		if s >= StatusUserBase {
			return fmt.Sprintf("user(%d)", int(s))
		}
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RequestStatus is the lifecycle state of a FrameViewRequest.
type RequestStatus int

const (
	// RequestStatusNotRendered means no result has been produced yet.
	// This is the initial state of every request.
	RequestStatusNotRendered RequestStatus = iota

	// RequestStatusRendered means the request completed and its produced
	// image is available.
	RequestStatusRendered

	// RequestStatusFailed means the render of this request failed.
	// Terminal: a failed request is never retried within the same render.
	RequestStatusFailed

	// RequestStatusAborted means the render was aborted before or while
	// this request was being rendered. Terminal, like RequestStatusFailed.
	RequestStatusAborted
)

// String returns the request status name.
func (s RequestStatus) String() string {
	switch s {
	case RequestStatusNotRendered:
		return "not-rendered"
	case RequestStatusRendered:
		return "rendered"
	case RequestStatusFailed:
		return "failed"
	case RequestStatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("request-status(%d)", int(s))
	}
}

// statusFromRequest maps a terminal request status back onto the engine
// status reported for the task that produced it.
func statusFromRequest(s RequestStatus) Status {
	switch s {
	case RequestStatusFailed:
		return StatusFailed
	case RequestStatusAborted:
		return StatusAborted
	default:
		return StatusOK
	}
}

// requestStatusFromStatus maps a render action outcome onto the terminal
// state of the request it was rendering.
func requestStatusFromStatus(s Status) RequestStatus {
	switch {
	case s == StatusAborted:
		return RequestStatusAborted
	case IsFailure(s):
		return RequestStatusFailed
	default:
		return RequestStatusRendered
	}
}

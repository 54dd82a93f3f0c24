// Package model defines domain entities and data structures for queuedesk.
//
// The model package contains the ticket lifecycle types shared by every
// layer: tickets and their statuses, per-community settings and counters,
// used transaction identifiers, staff duty records, and the derived queue
// position types.
//
// # Events
//
// Inbound work is expressed as a closed set of event variants. Each variant
// is a struct implementing [Event]; [NewEvent] maps a wire type name to an
// empty variant for decoding:
//
//	ev, ok := model.NewEvent(model.EventSubmitEvidence)
//	if !ok {
//	    // unknown type
//	}
//
// # Instructions and Outcomes
//
// Dispatching an event yields an [Outcome]. A successful outcome carries the
// [Instruction] list the presentation layer must apply (notify, grant role,
// revoke access, rename or destroy a channel). A refused event carries a
// [Rejection] instead and nothing was written.
//
// # Error Types
//
// RFC 9457 Problem Details errors are defined in errors.go and
// [ProblemFromRejection] maps rejections onto them.
package model

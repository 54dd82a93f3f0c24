// Package service implements the ticket lifecycle for queuedesk.
//
// The service package owns every rule about tickets: who may open one,
// how proof of payment admits a ticket to the queue, how staff move it
// through processing, and how it closes. Storage and the chat platform are
// reached only through the interfaces declared here.
//
// # Components
//
//   - IdentifierRegistry: one use per transaction identifier per community
//   - QueueAllocator: queue numbers and derived rank/total
//   - TicketService: the lifecycle controller, one method per event
//   - Dispatcher: validation, per-community serialization, retries, tracing
//   - Scheduler: cancellable deferred tasks keyed by ticket
//   - InstructionHub: SSE fan-out of controller instructions
//
// # Error Handling
//
// Controller methods return sentinel errors defined in errors.go, wrapped
// with context where useful. The Dispatcher never returns an error; it
// turns failures into an Outcome carrying a Rejection via RejectionFor:
//
//	out := dispatcher.Dispatch(ctx, &model.CreateTicket{
//	    CommunityID: "guild-1",
//	    RequesterID: "user-1",
//	})
//	if out.Rejected() {
//	    log.Println(out.Rejection.Code)
//	}
//
// # Concurrency
//
// Events of one community run one at a time in a process. Across processes
// the store's compare-and-swap on ticket versions and its atomic admission
// keep queue numbers and identifiers unique.
package service

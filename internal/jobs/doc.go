// Package jobs runs background work that runs independently of HTTP
// request handling.
//
// TicketTimeoutProcessor periodically lists tickets idle in Open or
// AwaitingEvidence and closes each one by dispatching a TimeoutTicket
// event. The dispatcher re-reads the ticket, so a ticket that received
// evidence between the listing and the dispatch is left alone.
//
//	sweeper := jobs.NewTicketTimeoutProcessor(jobs.TicketTimeoutConfig{
//	    Tickets:     store.Tickets,
//	    Dispatcher:  dispatcher,
//	    IdleTimeout: 24 * time.Hour,
//	})
//	sweeper.Start()
//	defer sweeper.Stop()
//
// Jobs log errors but never crash the application.
package jobs

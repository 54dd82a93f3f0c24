// Package repository implements the ticket store on SurrealDB.
//
// Each repository struct handles one part of the store and accepts a
// database.Database, so the same code runs against a live connection or a
// test namespace from testdb.
//
// # Guarded Scripts
//
// Mutations that must see a consistent view (Create, Transition, Admit) are
// sent as one BEGIN/COMMIT script built with database.TxBuilder. The script
// binds the current record with LET, checks it with guards that THROW one of
// the database.Throw* markers, then writes. A thrown guard cancels the whole
// script, so a failed admission never leaves an identifier or a counter
// increment behind.
//
// SurrealDB transactions are optimistic. When the engine aborts a script on
// a read/write conflict the script is re-run from the start; guard failures
// are returned as they are. An abort that survives every re-run is returned
// as database.ErrAborted, which callers treat as transient.
//
// # Record IDs
//
// Ticket records use the ticket id as their key. Identifiers, settings and
// duty flags use deterministic keys (community and value, community, community
// and user), which makes uniqueness a property of the key itself. The same
// holds for the one-active-ticket rule: Create also writes an active_ticket
// record keyed by community and requester, and closing the ticket deletes it.
//
//	repo := NewTicketRepository(db)
//	ticket, err := repo.GetByID(ctx, "0b6a...")
//	if ticket == nil && err == nil {
//	    // not found
//	}
package repository

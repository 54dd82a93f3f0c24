// Package fixtures provides test data factories for queuedesk stores.
//
// A Factory writes straight to the repositories of a service.Store, so it
// works against every backend:
//
//	db := memory.New()
//	f := fixtures.New(service.Store{
//		Tickets:     db.Tickets(),
//		Identifiers: db.Identifiers(),
//		Settings:    db.Settings(),
//		Duty:        db.Duty(),
//	})
//
// # Customization
//
// Option functions override defaults:
//
//	ticket := f.CreateTicket(t, fixtures.WithCommunity("901"), fixtures.WithRequester("u1"))
//	queued := f.CreateQueuedTicket(t, "TX-1", fixtures.WithCommunity("901"))
//	f.SetOnDuty(t, "901", "staff1")
//
// Unspecified communities, requesters and channels get random ids.
package fixtures

// Package handler provides the HTTP command surface of queuedesk.
//
// Every write route builds one controller event and hands it to the
// dispatcher; the resulting outcome is returned as data, or as an RFC 9457
// problem document when the event was rejected. Reads go straight to the
// ticket service.
//
// # Handler Pattern
//
//   - Constructor function (NewXxxHandler) accepts its dependencies as interfaces
//   - RegisterRoutes attaches the handler's routes, wrapped by a protect chain
//   - Response helpers from response.go standardize output format
//   - Read errors are mapped to Problem Details by MapServiceError
//
// # Authentication
//
// Protected routes run behind middleware.Auth and middleware.CommunityAccess.
// Ticket routes check the loaded ticket's community against the token scope
// themselves, since the community is not part of their path.
//
// # Example Usage
//
//	tickets := NewTicketHandler(dispatcher, ticketService)
//	tickets.RegisterRoutes(mux, protect)
package handler

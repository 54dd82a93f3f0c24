package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

const queuedFilter = `status IN ["paid", "processing"] AND queue_number != NONE`

// TicketRepository handles ticket data access
type TicketRepository struct {
	db database.Database
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db database.Database) *TicketRepository {
	return &TicketRepository{db: db}
}

// Create inserts a ticket unless the requester already has an active one
func (r *TicketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	content := map[string]interface{}{
		"community_id": ticket.CommunityID,
		"number":       ticket.Number,
		"channel_ref":  ticket.ChannelRef,
		"requester_id": ticket.RequesterID,
		"status":       string(ticket.Status),
		"version":      ticket.Version,
		"created_on":   datetime(ticket.CreatedOn),
		"updated_on":   datetime(ticket.UpdatedOn),
	}
	if ticket.TransactionID != nil {
		content["transaction_id"] = *ticket.TransactionID
	}
	if ticket.ClaimedBy != nil {
		content["claimed_by"] = *ticket.ClaimedBy
	}

	tb := database.NewTxBuilder()
	tb.Let("active", `SELECT VALUE id FROM ticket
		WHERE community_id = $community_id AND requester_id = $requester_id AND status != "closed"`,
		map[string]interface{}{
			"community_id": ticket.CommunityID,
			"requester_id": ticket.RequesterID,
		})
	tb.Guard("array::len($active) > 0", database.ThrowDuplicate)
	// Two scripts can both read an empty $active. Creating the same lock
	// record makes the second one fail with "already exists".
	if ticket.Status != model.TicketStatusClosed {
		tb.Add(`CREATE type::thing("active_ticket", [$community_id, $requester_id]) CONTENT {
				community_id: $community_id,
				requester_id: $requester_id,
				ticket_id: $ticket_id
			}`,
			map[string]interface{}{
				"community_id": ticket.CommunityID,
				"requester_id": ticket.RequesterID,
				"ticket_id":    ticket.ID,
			})
	}
	tb.Add(`CREATE type::thing("ticket", $id) CONTENT $content`, map[string]interface{}{
		"id":      ticket.ID,
		"content": content,
	})

	if _, err := runScript(ctx, r.db, tb); err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetByID retrieves a ticket by ID
func (r *TicketRepository) GetByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	return r.getOne(ctx, `SELECT * FROM type::thing("ticket", $id)`, map[string]interface{}{"id": ticketID})
}

// GetByChannel retrieves the ticket that owns a channel
func (r *TicketRepository) GetByChannel(ctx context.Context, communityID, channelRef string) (*model.Ticket, error) {
	return r.getOne(ctx, `SELECT * FROM ticket
		WHERE community_id = $community_id AND channel_ref = $channel_ref LIMIT 1`,
		map[string]interface{}{
			"community_id": communityID,
			"channel_ref":  channelRef,
		})
}

// GetActiveByRequester retrieves a requester's non-closed ticket
func (r *TicketRepository) GetActiveByRequester(ctx context.Context, communityID, requesterID string) (*model.Ticket, error) {
	return r.getOne(ctx, `SELECT * FROM ticket
		WHERE community_id = $community_id AND requester_id = $requester_id AND status != "closed" LIMIT 1`,
		map[string]interface{}{
			"community_id": communityID,
			"requester_id": requesterID,
		})
}

func (r *TicketRepository) getOne(ctx context.Context, query string, vars map[string]interface{}) (*model.Ticket, error) {
	result, err := r.db.QueryOne(ctx, query, vars)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return parseTicket(result)
}

// ListIdle returns tickets in the given statuses not updated since before
func (r *TicketRepository) ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT * FROM ticket
		WHERE status IN $statuses AND updated_on < $before
		ORDER BY updated_on ASC`
	vars := map[string]interface{}{
		"statuses": names,
		"before":   datetime(before),
	}
	if limit > 0 {
		query += ` LIMIT $limit`
		vars["limit"] = limit
	}

	result, err := r.db.Query(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle tickets: %w", err)
	}
	return parseTickets(result)
}

// Transition applies a status change if the ticket is still at the expected version
func (r *TicketRepository) Transition(ctx context.Context, p model.TransitionParams) (*model.Ticket, error) {
	tb := database.NewTxBuilder()
	tb.Let("t", `SELECT * FROM ONLY type::thing("ticket", $id)`, map[string]interface{}{"id": p.TicketID})
	tb.Guard("$t = NONE", database.ThrowNotFound)
	tb.Let("stale", `$t.version != $version OR $t.status = "closed"`,
		map[string]interface{}{"version": p.ExpectedVersion})
	tb.Guard("$stale", database.ThrowConflict)

	set := `status = $status, version += 1, updated_on = $at`
	vars := map[string]interface{}{
		"status": string(p.To),
		"at":     datetime(p.At),
	}
	if p.ClaimedBy != nil {
		set += `, claimed_by = $claimed_by`
		vars["claimed_by"] = *p.ClaimedBy
	}
	if p.CloseReason != nil {
		set += `, close_reason = $close_reason`
		vars["close_reason"] = string(*p.CloseReason)
	}
	if p.To == model.TicketStatusClosed {
		set += `, closed_on = $at`
	}
	if p.To == model.TicketStatusClosed {
		tb.AddRaw(`DELETE type::thing("active_ticket", [$t.community_id, $t.requester_id])`)
	}
	tb.Add(`UPDATE ONLY $t.id SET `+set+` RETURN AFTER`, vars)

	results, err := runScript(ctx, r.db, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ticket: %w", err)
	}
	updated, err := database.LastResult(results)
	if err != nil {
		return nil, fmt.Errorf("failed to read transitioned ticket: %w", err)
	}
	return parseTicket(updated)
}

// Admit registers the optional identifier, takes the next queue number and
// moves the ticket to paid. A guard failure leaves every record untouched.
func (r *TicketRepository) Admit(ctx context.Context, p model.AdmissionParams) (*model.Ticket, error) {
	tb := database.NewTxBuilder()
	tb.Let("t", `SELECT * FROM ONLY type::thing("ticket", $id)`, map[string]interface{}{"id": p.TicketID})
	tb.Let("missing", `$t = NONE OR $t.community_id != $community_id`,
		map[string]interface{}{"community_id": p.CommunityID})
	tb.Guard("$missing", database.ThrowNotFound)
	tb.Let("stale", `$t.version != $version OR $t.status = "closed" OR $t.queue_number != NONE`,
		map[string]interface{}{"version": p.ExpectedVersion})
	tb.Guard("$stale", database.ThrowConflict)

	var transactionID interface{}
	if rec := p.Identifier; rec != nil {
		tb.Add(`CREATE type::thing("transaction_identifier", [$community_id, $value]) CONTENT {
				community_id: $community_id,
				value: $value,
				ticket_id: $ticket_id,
				created_on: $created_on
			}`,
			map[string]interface{}{
				"community_id": rec.CommunityID,
				"value":        rec.Value,
				"ticket_id":    rec.TicketID,
				"created_on":   datetime(rec.CreatedOn),
			})
		transactionID = rec.Value
	}

	tb.Let("s", upsertCounter("queue_counter"), map[string]interface{}{
		"community_id": p.CommunityID,
		"at":           datetime(p.At),
	})

	update := `UPDATE ONLY $t.id SET
			status = "paid",
			queue_number = $s.queue_counter,
			version += 1,
			updated_on = $at`
	vars := map[string]interface{}{"at": datetime(p.At)}
	if transactionID != nil {
		update += `, transaction_id = $transaction_id`
		vars["transaction_id"] = transactionID
	}
	tb.Add(update+` RETURN AFTER`, vars)

	results, err := runScript(ctx, r.db, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to admit ticket: %w", err)
	}
	updated, err := database.LastResult(results)
	if err != nil {
		return nil, fmt.Errorf("failed to read admitted ticket: %w", err)
	}
	return parseTicket(updated)
}

// QueuePosition derives rank and total inside one transaction. Returns nil
// when the ticket is not in the queue.
func (r *TicketRepository) QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error) {
	tb := database.NewTxBuilder()
	tb.Let("t", `SELECT * FROM ONLY type::thing("ticket", $id)`, map[string]interface{}{"id": ticketID})
	tb.AddRaw(`RETURN IF $t != NONE AND $t.status IN ["paid", "processing"] AND $t.queue_number != NONE THEN {
			queue_number: $t.queue_number,
			rank: array::len(SELECT id FROM ticket
				WHERE community_id = $t.community_id AND ` + queuedFilter + `
				AND queue_number <= $t.queue_number),
			total: array::len(SELECT id FROM ticket
				WHERE community_id = $t.community_id AND ` + queuedFilter + `)
		} ELSE NONE END`)

	results, err := runScript(ctx, r.db, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue position: %w", err)
	}
	result, err := database.LastResult(results)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue position: %w", err)
	}
	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	number, _ := getInt64(data, "queue_number")
	rank, _ := getInt64(data, "rank")
	total, _ := getInt64(data, "total")
	return &model.QueuePosition{
		TicketID:    ticketID,
		QueueNumber: number,
		Rank:        int(rank),
		Total:       int(total),
	}, nil
}

// QueueSnapshot returns the community's queue ordered by queue number
func (r *TicketRepository) QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	result, err := r.db.Query(ctx, `SELECT * FROM ticket
		WHERE community_id = $community_id AND `+queuedFilter+`
		ORDER BY queue_number ASC`,
		map[string]interface{}{"community_id": communityID})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue snapshot: %w", err)
	}

	tickets, err := parseTickets(result)
	if err != nil {
		return nil, err
	}
	snap := &model.QueueSnapshot{CommunityID: communityID, Entries: make([]model.QueueEntry, 0, len(tickets))}
	for i, t := range tickets {
		snap.Entries = append(snap.Entries, model.QueueEntry{
			TicketID:     t.ID,
			TicketNumber: t.Number,
			ChannelRef:   t.ChannelRef,
			RequesterID:  t.RequesterID,
			Status:       t.Status,
			QueueNumber:  *t.QueueNumber,
			Rank:         i + 1,
		})
	}
	return snap, nil
}

func parseTicket(result interface{}) (*model.Ticket, error) {
	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected result format")
	}

	number, _ := getInt64(data, "number")
	version, _ := getInt64(data, "version")
	ticket := &model.Ticket{
		ID:            recordKey(data["id"]),
		CommunityID:   getString(data, "community_id"),
		Number:        number,
		ChannelRef:    getString(data, "channel_ref"),
		RequesterID:   getString(data, "requester_id"),
		Status:        model.TicketStatus(getString(data, "status")),
		TransactionID: getStringPtr(data, "transaction_id"),
		ClaimedBy:     getStringPtr(data, "claimed_by"),
		Version:       version,
	}
	if n, ok := getInt64(data, "queue_number"); ok {
		ticket.QueueNumber = &n
	}
	if reason := getStringPtr(data, "close_reason"); reason != nil {
		r := model.CloseReason(*reason)
		ticket.CloseReason = &r
	}
	if t := getTime(data, "created_on"); t != nil {
		ticket.CreatedOn = *t
	}
	if t := getTime(data, "updated_on"); t != nil {
		ticket.UpdatedOn = *t
	}
	ticket.ClosedOn = getTime(data, "closed_on")

	return ticket, nil
}

func parseTickets(result []interface{}) ([]*model.Ticket, error) {
	rows := records(result)
	tickets := make([]*model.Ticket, 0, len(rows))
	for _, row := range rows {
		ticket, err := parseTicket(row)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

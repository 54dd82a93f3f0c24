// Package sqlite implements the ticket store on SQLite through
// zombiezen.com/go/sqlite. Every mutation runs in one IMMEDIATE
// transaction, and every queue read is a single statement, so admissions
// and rank reads are consistent without any process-level locking.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// Store is the SQLite ticket store
type Store struct {
	pool *Pool
	now  func() time.Time
}

// New creates a store on an open pool
func New(pool *Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Tickets returns the ticket repository
func (s *Store) Tickets() *TicketRepository { return &TicketRepository{s: s} }

// Identifiers returns the identifier repository
func (s *Store) Identifiers() *IdentifierRepository { return &IdentifierRepository{s: s} }

// Settings returns the settings repository
func (s *Store) Settings() *SettingsRepository { return &SettingsRepository{s: s} }

// Duty returns the staff duty repository
func (s *Store) Duty() *DutyRepository { return &DutyRepository{s: s} }

// read runs fn on a pooled connection
func (s *Store) read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return classify(err)
	}
	defer s.pool.Put(conn)
	return classify(fn(conn))
}

// write runs fn inside an IMMEDIATE transaction, rolled back if fn fails
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return classify(err)
	}
	defer s.pool.Put(conn)

	err = func() (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)
		return fn(conn)
	}()
	return classify(err)
}

// classify maps SQLite failures onto the store sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrDuplicate) ||
		errors.Is(err, database.ErrConflict) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", database.ErrConnection, err)
	}

	code := sqlite.ErrCode(err)
	switch {
	case code == sqlite.ResultConstraintUnique, code == sqlite.ResultConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", database.ErrDuplicate, err)
	case code.ToPrimary() == sqlite.ResultBusy, code.ToPrimary() == sqlite.ResultLocked,
		code.ToPrimary() == sqlite.ResultInterrupt:
		return fmt.Errorf("%w: %v", database.ErrConnection, err)
	default:
		return fmt.Errorf("%w: %v", database.ErrQuery, err)
	}
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullText(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	v := stmt.ColumnText(col)
	return &v
}

func nullInt(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	v := stmt.ColumnInt64(col)
	return &v
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// ============================================================================
// Tickets
// ============================================================================

const ticketColumns = `id, community_id, number, channel_ref, requester_id, status,
	transaction_id, queue_number, claimed_by, close_reason, version,
	created_on, updated_on, closed_on`

const queuedPredicate = `status IN ('paid', 'processing') AND queue_number IS NOT NULL`

func scanTicket(stmt *sqlite.Stmt) *model.Ticket {
	t := &model.Ticket{
		ID:            stmt.ColumnText(0),
		CommunityID:   stmt.ColumnText(1),
		Number:        stmt.ColumnInt64(2),
		ChannelRef:    stmt.ColumnText(3),
		RequesterID:   stmt.ColumnText(4),
		Status:        model.TicketStatus(stmt.ColumnText(5)),
		TransactionID: nullText(stmt, 6),
		QueueNumber:   nullInt(stmt, 7),
		ClaimedBy:     nullText(stmt, 8),
		Version:       stmt.ColumnInt64(10),
		CreatedOn:     fromNanos(stmt.ColumnInt64(11)),
		UpdatedOn:     fromNanos(stmt.ColumnInt64(12)),
	}
	if reason := nullText(stmt, 9); reason != nil {
		r := model.CloseReason(*reason)
		t.CloseReason = &r
	}
	if closed := nullInt(stmt, 13); closed != nil {
		at := fromNanos(*closed)
		t.ClosedOn = &at
	}
	return t
}

func getTicket(conn *sqlite.Conn, where string, args ...any) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := sqlitex.Execute(conn, `SELECT `+ticketColumns+` FROM tickets WHERE `+where+` LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ticket = scanTicket(stmt)
				return nil
			},
		})
	return ticket, err
}

// TicketRepository stores tickets and derives queue positions
type TicketRepository struct {
	s *Store
}

func (r *TicketRepository) Create(ctx context.Context, ticket *model.Ticket) error {
	return r.s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					ticket.ID,
					ticket.CommunityID,
					ticket.Number,
					ticket.ChannelRef,
					ticket.RequesterID,
					string(ticket.Status),
					optional(ticket.TransactionID),
					nil,
					optional(ticket.ClaimedBy),
					nil,
					ticket.Version,
					nanos(ticket.CreatedOn),
					nanos(ticket.UpdatedOn),
					nil,
				},
			})
	})
}

func (r *TicketRepository) GetByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := r.s.read(ctx, func(conn *sqlite.Conn) (err error) {
		ticket, err = getTicket(conn, `id = ?`, ticketID)
		return err
	})
	return ticket, err
}

func (r *TicketRepository) GetByChannel(ctx context.Context, communityID, channelRef string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := r.s.read(ctx, func(conn *sqlite.Conn) (err error) {
		ticket, err = getTicket(conn, `community_id = ? AND channel_ref = ?`, communityID, channelRef)
		return err
	})
	return ticket, err
}

func (r *TicketRepository) GetActiveByRequester(ctx context.Context, communityID, requesterID string) (*model.Ticket, error) {
	var ticket *model.Ticket
	err := r.s.read(ctx, func(conn *sqlite.Conn) (err error) {
		ticket, err = getTicket(conn, `community_id = ? AND requester_id = ? AND status != 'closed'`,
			communityID, requesterID)
		return err
	})
	return ticket, err
}

func (r *TicketRepository) ListIdle(ctx context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, nanos(before), limit)

	var tickets []*model.Ticket
	err := r.s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+ticketColumns+` FROM tickets
			WHERE status IN (`+placeholders+`) AND updated_on < ?
			ORDER BY updated_on ASC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					tickets = append(tickets, scanTicket(stmt))
					return nil
				},
			})
	})
	return tickets, err
}

func (r *TicketRepository) Transition(ctx context.Context, p model.TransitionParams) (*model.Ticket, error) {
	var updated *model.Ticket
	err := r.s.write(ctx, func(conn *sqlite.Conn) error {
		current, err := getTicket(conn, `id = ?`, p.TicketID)
		if err != nil {
			return err
		}
		if current == nil {
			return database.ErrNotFound
		}
		if current.Version != p.ExpectedVersion || current.Status == model.TicketStatusClosed {
			return database.ErrConflict
		}

		var reason, closedOn any
		if p.CloseReason != nil {
			reason = string(*p.CloseReason)
		}
		if p.To == model.TicketStatusClosed {
			closedOn = nanos(p.At)
		}

		err = sqlitex.Execute(conn, `UPDATE tickets SET
				status = ?,
				claimed_by = COALESCE(?, claimed_by),
				close_reason = COALESCE(?, close_reason),
				closed_on = COALESCE(?, closed_on),
				version = version + 1,
				updated_on = ?
			WHERE id = ? AND version = ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					string(p.To),
					optional(p.ClaimedBy),
					reason,
					closedOn,
					nanos(p.At),
					p.TicketID,
					p.ExpectedVersion,
				},
			})
		if err != nil {
			return err
		}
		if conn.Changes() != 1 {
			return database.ErrConflict
		}

		updated, err = getTicket(conn, `id = ?`, p.TicketID)
		return err
	})
	return updated, err
}

func (r *TicketRepository) Admit(ctx context.Context, p model.AdmissionParams) (*model.Ticket, error) {
	var updated *model.Ticket
	err := r.s.write(ctx, func(conn *sqlite.Conn) error {
		current, err := getTicket(conn, `id = ?`, p.TicketID)
		if err != nil {
			return err
		}
		if current == nil || current.CommunityID != p.CommunityID {
			return database.ErrNotFound
		}
		if current.Version != p.ExpectedVersion || current.Status == model.TicketStatusClosed ||
			current.QueueNumber != nil {
			return database.ErrConflict
		}

		var transactionID any
		if rec := p.Identifier; rec != nil {
			err := sqlitex.Execute(conn, `INSERT INTO transaction_identifiers
				(community_id, value, ticket_id, created_on) VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{
					Args: []any{rec.CommunityID, rec.Value, rec.TicketID, nanos(rec.CreatedOn)},
				})
			if err != nil {
				return classify(err)
			}
			transactionID = rec.Value
		}

		number, err := bumpCounter(conn, p.CommunityID, "queue_counter", p.At)
		if err != nil {
			return err
		}

		err = sqlitex.Execute(conn, `UPDATE tickets SET
				status = 'paid',
				queue_number = ?,
				transaction_id = ?,
				version = version + 1,
				updated_on = ?
			WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{number, transactionID, nanos(p.At), p.TicketID},
			})
		if err != nil {
			return err
		}

		updated, err = getTicket(conn, `id = ?`, p.TicketID)
		return err
	})
	return updated, err
}

// QueuePosition derives rank and total in one statement
func (r *TicketRepository) QueuePosition(ctx context.Context, ticketID string) (*model.QueuePosition, error) {
	var pos *model.QueuePosition
	err := r.s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT t.queue_number,
				(SELECT COUNT(*) FROM tickets q
					WHERE q.community_id = t.community_id AND q.`+queuedPredicate+`
					AND q.queue_number <= t.queue_number),
				(SELECT COUNT(*) FROM tickets q
					WHERE q.community_id = t.community_id AND q.`+queuedPredicate+`)
			FROM tickets t
			WHERE t.id = ? AND t.status IN ('paid', 'processing') AND t.queue_number IS NOT NULL`,
			&sqlitex.ExecOptions{
				Args: []any{ticketID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					pos = &model.QueuePosition{
						TicketID:    ticketID,
						QueueNumber: stmt.ColumnInt64(0),
						Rank:        stmt.ColumnInt(1),
						Total:       stmt.ColumnInt(2),
					}
					return nil
				},
			})
	})
	return pos, err
}

func (r *TicketRepository) QueueSnapshot(ctx context.Context, communityID string) (*model.QueueSnapshot, error) {
	snap := &model.QueueSnapshot{CommunityID: communityID, Entries: []model.QueueEntry{}}
	err := r.s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT id, number, channel_ref, requester_id, status, queue_number,
				ROW_NUMBER() OVER (ORDER BY queue_number)
			FROM tickets
			WHERE community_id = ? AND `+queuedPredicate+`
			ORDER BY queue_number`,
			&sqlitex.ExecOptions{
				Args: []any{communityID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					snap.Entries = append(snap.Entries, model.QueueEntry{
						TicketID:     stmt.ColumnText(0),
						TicketNumber: stmt.ColumnInt64(1),
						ChannelRef:   stmt.ColumnText(2),
						RequesterID:  stmt.ColumnText(3),
						Status:       model.TicketStatus(stmt.ColumnText(4)),
						QueueNumber:  stmt.ColumnInt64(5),
						Rank:         stmt.ColumnInt(6),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ============================================================================
// Identifiers
// ============================================================================

// IdentifierRepository stores used transaction identifiers
type IdentifierRepository struct {
	s *Store
}

func (r *IdentifierRepository) Register(ctx context.Context, rec *model.TransactionRecord) error {
	return r.s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO transaction_identifiers
			(community_id, value, ticket_id, created_on) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{rec.CommunityID, rec.Value, rec.TicketID, nanos(rec.CreatedOn)},
			})
	})
}

func (r *IdentifierRepository) Get(ctx context.Context, communityID, value string) (*model.TransactionRecord, error) {
	var rec *model.TransactionRecord
	err := r.s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT community_id, value, ticket_id, created_on
			FROM transaction_identifiers WHERE community_id = ? AND value = ?`,
			&sqlitex.ExecOptions{
				Args: []any{communityID, value},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					rec = &model.TransactionRecord{
						CommunityID: stmt.ColumnText(0),
						Value:       stmt.ColumnText(1),
						TicketID:    stmt.ColumnText(2),
						CreatedOn:   fromNanos(stmt.ColumnInt64(3)),
					}
					return nil
				},
			})
	})
	return rec, err
}

// ============================================================================
// Settings
// ============================================================================

// SettingsRepository stores per-community counters and channels
type SettingsRepository struct {
	s *Store
}

// ensureSettings creates the settings row on first use
func ensureSettings(conn *sqlite.Conn, communityID string, at time.Time) error {
	return sqlitex.Execute(conn, `INSERT INTO community_settings (community_id, created_on, updated_on)
		VALUES (?, ?, ?) ON CONFLICT(community_id) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{communityID, nanos(at), nanos(at)}})
}

// bumpCounter increments one counter column and returns its new value.
// Caller holds an IMMEDIATE transaction.
func bumpCounter(conn *sqlite.Conn, communityID, column string, at time.Time) (int64, error) {
	if err := ensureSettings(conn, communityID, at); err != nil {
		return 0, err
	}
	err := sqlitex.Execute(conn, `UPDATE community_settings
		SET `+column+` = `+column+` + 1, updated_on = ? WHERE community_id = ?`,
		&sqlitex.ExecOptions{Args: []any{nanos(at), communityID}})
	if err != nil {
		return 0, err
	}

	var value int64
	err = sqlitex.Execute(conn, `SELECT `+column+` FROM community_settings WHERE community_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{communityID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnInt64(0)
				return nil
			},
		})
	return value, err
}

func getSettings(conn *sqlite.Conn, communityID string) (*model.CommunitySettings, error) {
	var settings *model.CommunitySettings
	err := sqlitex.Execute(conn, `SELECT community_id, queue_counter, ticket_counter, panel_channel_ref,
			created_on, updated_on
		FROM community_settings WHERE community_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{communityID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings = &model.CommunitySettings{
					CommunityID:     stmt.ColumnText(0),
					QueueCounter:    stmt.ColumnInt64(1),
					TicketCounter:   stmt.ColumnInt64(2),
					PanelChannelRef: nullText(stmt, 3),
					CreatedOn:       fromNanos(stmt.ColumnInt64(4)),
					UpdatedOn:       fromNanos(stmt.ColumnInt64(5)),
				}
				return nil
			},
		})
	return settings, err
}

func (r *SettingsRepository) Get(ctx context.Context, communityID string) (*model.CommunitySettings, error) {
	var settings *model.CommunitySettings
	err := r.s.write(ctx, func(conn *sqlite.Conn) (err error) {
		if err := ensureSettings(conn, communityID, r.s.now()); err != nil {
			return err
		}
		settings, err = getSettings(conn, communityID)
		return err
	})
	return settings, err
}

func (r *SettingsRepository) NextTicketNumber(ctx context.Context, communityID string) (int64, error) {
	var number int64
	err := r.s.write(ctx, func(conn *sqlite.Conn) (err error) {
		number, err = bumpCounter(conn, communityID, "ticket_counter", r.s.now())
		return err
	})
	return number, err
}

func (r *SettingsRepository) SetPanelChannel(ctx context.Context, communityID, channelRef string) (*model.CommunitySettings, error) {
	var settings *model.CommunitySettings
	err := r.s.write(ctx, func(conn *sqlite.Conn) (err error) {
		now := r.s.now()
		if err := ensureSettings(conn, communityID, now); err != nil {
			return err
		}
		err = sqlitex.Execute(conn, `UPDATE community_settings SET panel_channel_ref = ?, updated_on = ?
			WHERE community_id = ?`,
			&sqlitex.ExecOptions{Args: []any{channelRef, nanos(now), communityID}})
		if err != nil {
			return err
		}
		settings, err = getSettings(conn, communityID)
		return err
	})
	return settings, err
}

// ============================================================================
// Staff duty
// ============================================================================

// DutyRepository stores staff on-duty flags
type DutyRepository struct {
	s *Store
}

func (r *DutyRepository) SetDuty(ctx context.Context, duty *model.StaffDuty) error {
	return r.s.write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO staff_duty (community_id, user_id, on_duty, updated_on)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(community_id, user_id) DO UPDATE SET
				on_duty = excluded.on_duty,
				updated_on = excluded.updated_on`,
			&sqlitex.ExecOptions{
				Args: []any{duty.CommunityID, duty.UserID, duty.OnDuty, nanos(duty.UpdatedOn)},
			})
	})
}

func (r *DutyRepository) ListOnDuty(ctx context.Context, communityID string) ([]*model.StaffDuty, error) {
	var out []*model.StaffDuty
	err := r.s.read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT community_id, user_id, on_duty, updated_on
			FROM staff_duty WHERE community_id = ? AND on_duty = 1 ORDER BY user_id`,
			&sqlitex.ExecOptions{
				Args: []any{communityID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, &model.StaffDuty{
						CommunityID: stmt.ColumnText(0),
						UserID:      stmt.ColumnText(1),
						OnDuty:      stmt.ColumnBool(2),
						UpdatedOn:   fromNanos(stmt.ColumnInt64(3)),
					})
					return nil
				},
			})
	})
	return out, err
}

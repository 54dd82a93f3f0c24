// Package memory implements the ticket store using in-memory data structures.
// It backs single-node development and the service tests; nothing survives
// a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// DB holds every record behind one lock, so each repository call is a
// single atomic unit
type DB struct {
	mu sync.RWMutex

	tickets     map[string]*model.Ticket            // ID -> Ticket
	identifiers map[string]*model.TransactionRecord // community/value -> record
	settings    map[string]*model.CommunitySettings // communityID -> settings
	duty        map[string]*model.StaffDuty         // community/user -> duty

	// Indexes for O(1) lookups
	byChannel map[string]string // community/channel -> ticket ID
	active    map[string]string // community/requester -> active ticket ID

	now func() time.Time
}

// New creates a new in-memory store
func New() *DB {
	return &DB{
		tickets:     make(map[string]*model.Ticket),
		identifiers: make(map[string]*model.TransactionRecord),
		settings:    make(map[string]*model.CommunitySettings),
		duty:        make(map[string]*model.StaffDuty),
		byChannel:   make(map[string]string),
		active:      make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Tickets returns the ticket repository
func (db *DB) Tickets() *TicketRepository { return &TicketRepository{db: db} }

// Identifiers returns the identifier repository
func (db *DB) Identifiers() *IdentifierRepository { return &IdentifierRepository{db: db} }

// Settings returns the settings repository
func (db *DB) Settings() *SettingsRepository { return &SettingsRepository{db: db} }

// Duty returns the staff duty repository
func (db *DB) Duty() *DutyRepository { return &DutyRepository{db: db} }

func key(a, b string) string { return a + "/" + b }

func cloneTicket(t *model.Ticket) *model.Ticket {
	c := *t
	if t.TransactionID != nil {
		v := *t.TransactionID
		c.TransactionID = &v
	}
	if t.QueueNumber != nil {
		v := *t.QueueNumber
		c.QueueNumber = &v
	}
	if t.ClaimedBy != nil {
		v := *t.ClaimedBy
		c.ClaimedBy = &v
	}
	if t.CloseReason != nil {
		v := *t.CloseReason
		c.CloseReason = &v
	}
	if t.ClosedOn != nil {
		v := *t.ClosedOn
		c.ClosedOn = &v
	}
	return &c
}

func cloneSettings(s *model.CommunitySettings) *model.CommunitySettings {
	c := *s
	if s.PanelChannelRef != nil {
		v := *s.PanelChannelRef
		c.PanelChannelRef = &v
	}
	return &c
}

// settingsLocked returns the settings of a community, creating them on
// first use. Caller holds the write lock.
func (db *DB) settingsLocked(communityID string) *model.CommunitySettings {
	s, ok := db.settings[communityID]
	if !ok {
		now := db.now()
		s = &model.CommunitySettings{CommunityID: communityID, CreatedOn: now, UpdatedOn: now}
		db.settings[communityID] = s
	}
	return s
}

// snapshotLocked builds the ordered queue of a community. Caller holds a lock.
func (db *DB) snapshotLocked(communityID string) *model.QueueSnapshot {
	snap := &model.QueueSnapshot{CommunityID: communityID, Entries: []model.QueueEntry{}}
	for _, t := range db.tickets {
		if t.CommunityID != communityID || !t.InQueue() {
			continue
		}
		snap.Entries = append(snap.Entries, model.QueueEntry{
			TicketID:     t.ID,
			TicketNumber: t.Number,
			ChannelRef:   t.ChannelRef,
			RequesterID:  t.RequesterID,
			Status:       t.Status,
			QueueNumber:  *t.QueueNumber,
		})
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].QueueNumber < snap.Entries[j].QueueNumber
	})
	for i := range snap.Entries {
		snap.Entries[i].Rank = i + 1
	}
	return snap
}

// ============================================================================
// Tickets
// ============================================================================

// TicketRepository stores tickets and derives queue positions
type TicketRepository struct {
	db *DB
}

// Create inserts a ticket unless its requester already has an active one
func (r *TicketRepository) Create(_ context.Context, ticket *model.Ticket) error {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tickets[ticket.ID]; exists {
		return database.ErrDuplicate
	}
	activeKey := key(ticket.CommunityID, ticket.RequesterID)
	if ticket.Status.IsActive() {
		if _, exists := db.active[activeKey]; exists {
			return database.ErrDuplicate
		}
		db.active[activeKey] = ticket.ID
	}

	db.tickets[ticket.ID] = cloneTicket(ticket)
	db.byChannel[key(ticket.CommunityID, ticket.ChannelRef)] = ticket.ID
	return nil
}

func (r *TicketRepository) GetByID(_ context.Context, ticketID string) (*model.Ticket, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	t, ok := r.db.tickets[ticketID]
	if !ok {
		return nil, nil
	}
	return cloneTicket(t), nil
}

func (r *TicketRepository) GetByChannel(_ context.Context, communityID, channelRef string) (*model.Ticket, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id, ok := r.db.byChannel[key(communityID, channelRef)]
	if !ok {
		return nil, nil
	}
	return cloneTicket(r.db.tickets[id]), nil
}

func (r *TicketRepository) GetActiveByRequester(_ context.Context, communityID, requesterID string) (*model.Ticket, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id, ok := r.db.active[key(communityID, requesterID)]
	if !ok {
		return nil, nil
	}
	return cloneTicket(r.db.tickets[id]), nil
}

// ListIdle returns tickets in statuses last updated before the cutoff,
// oldest first
func (r *TicketRepository) ListIdle(_ context.Context, statuses []model.TicketStatus, before time.Time, limit int) ([]*model.Ticket, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	want := make(map[model.TicketStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*model.Ticket
	for _, t := range r.db.tickets {
		if want[t.Status] && t.UpdatedOn.Before(before) {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedOn.Before(out[j].UpdatedOn)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition applies a status change if the ticket is still at the expected version
func (r *TicketRepository) Transition(_ context.Context, p model.TransitionParams) (*model.Ticket, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tickets[p.TicketID]
	if !ok {
		return nil, database.ErrNotFound
	}
	if t.Version != p.ExpectedVersion || t.Status == model.TicketStatusClosed {
		return nil, database.ErrConflict
	}

	t.Status = p.To
	if p.ClaimedBy != nil {
		v := *p.ClaimedBy
		t.ClaimedBy = &v
	}
	if p.CloseReason != nil {
		v := *p.CloseReason
		t.CloseReason = &v
	}
	if p.To == model.TicketStatusClosed {
		at := p.At
		t.ClosedOn = &at
		delete(db.active, key(t.CommunityID, t.RequesterID))
	}
	t.Version++
	t.UpdatedOn = p.At
	return cloneTicket(t), nil
}

// Admit registers the identifier, takes the next queue number and marks
// the ticket paid, all under one lock
func (r *TicketRepository) Admit(_ context.Context, p model.AdmissionParams) (*model.Ticket, error) {
	db := r.db
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tickets[p.TicketID]
	if !ok || t.CommunityID != p.CommunityID {
		return nil, database.ErrNotFound
	}
	if t.Version != p.ExpectedVersion || t.Status == model.TicketStatusClosed || t.QueueNumber != nil {
		return nil, database.ErrConflict
	}

	if p.Identifier != nil {
		idKey := key(p.CommunityID, p.Identifier.Value)
		if _, used := db.identifiers[idKey]; used {
			return nil, database.ErrDuplicate
		}
		rec := *p.Identifier
		db.identifiers[idKey] = &rec
		value := rec.Value
		t.TransactionID = &value
	}

	s := db.settingsLocked(p.CommunityID)
	s.QueueCounter++
	s.UpdatedOn = p.At
	number := s.QueueCounter

	t.Status = model.TicketStatusPaid
	t.QueueNumber = &number
	t.Version++
	t.UpdatedOn = p.At
	return cloneTicket(t), nil
}

// QueuePosition derives rank and total; nil if the ticket is not queued
func (r *TicketRepository) QueuePosition(_ context.Context, ticketID string) (*model.QueuePosition, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	t, ok := r.db.tickets[ticketID]
	if !ok || !t.InQueue() {
		return nil, nil
	}
	return r.db.snapshotLocked(t.CommunityID).PositionOf(ticketID), nil
}

func (r *TicketRepository) QueueSnapshot(_ context.Context, communityID string) (*model.QueueSnapshot, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.db.snapshotLocked(communityID), nil
}

// ============================================================================
// Identifiers
// ============================================================================

// IdentifierRepository stores used transaction identifiers
type IdentifierRepository struct {
	db *DB
}

func (r *IdentifierRepository) Register(_ context.Context, rec *model.TransactionRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	k := key(rec.CommunityID, rec.Value)
	if _, used := r.db.identifiers[k]; used {
		return database.ErrDuplicate
	}
	c := *rec
	r.db.identifiers[k] = &c
	return nil
}

func (r *IdentifierRepository) Get(_ context.Context, communityID, value string) (*model.TransactionRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rec, ok := r.db.identifiers[key(communityID, value)]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

// ============================================================================
// Settings
// ============================================================================

// SettingsRepository stores per-community counters and channels
type SettingsRepository struct {
	db *DB
}

func (r *SettingsRepository) Get(_ context.Context, communityID string) (*model.CommunitySettings, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return cloneSettings(r.db.settingsLocked(communityID)), nil
}

func (r *SettingsRepository) NextTicketNumber(_ context.Context, communityID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s := r.db.settingsLocked(communityID)
	s.TicketCounter++
	s.UpdatedOn = r.db.now()
	return s.TicketCounter, nil
}

func (r *SettingsRepository) SetPanelChannel(_ context.Context, communityID, channelRef string) (*model.CommunitySettings, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s := r.db.settingsLocked(communityID)
	ref := channelRef
	s.PanelChannelRef = &ref
	s.UpdatedOn = r.db.now()
	return cloneSettings(s), nil
}

// ============================================================================
// Staff duty
// ============================================================================

// DutyRepository stores staff on-duty flags
type DutyRepository struct {
	db *DB
}

func (r *DutyRepository) SetDuty(_ context.Context, duty *model.StaffDuty) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c := *duty
	r.db.duty[key(duty.CommunityID, duty.UserID)] = &c
	return nil
}

func (r *DutyRepository) ListOnDuty(_ context.Context, communityID string) ([]*model.StaffDuty, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []*model.StaffDuty
	for _, d := range r.db.duty {
		if d.CommunityID == communityID && d.OnDuty {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/forgo/queuedesk/internal/clock"
	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// IdentifierRegistry enforces that a transaction identifier is used at most
// once per community, forever.
type IdentifierRegistry struct {
	repo  IdentifierRepository
	clock clock.Clock
}

// NewIdentifierRegistry creates a new identifier registry
func NewIdentifierRegistry(repo IdentifierRepository, clk clock.Clock) *IdentifierRegistry {
	if clk == nil {
		clk = clock.Real()
	}
	return &IdentifierRegistry{repo: repo, clock: clk}
}

// NormalizeIdentifier trims surrounding whitespace and rejects empty values,
// invalid UTF-8, control characters and anything over MaxIdentifierLength
// characters
func NormalizeIdentifier(value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" || !utf8.ValidString(v) || utf8.RuneCountInString(v) > model.MaxIdentifierLength {
		return "", ErrInvalidIdentifier
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", ErrInvalidIdentifier
		}
	}
	return v, nil
}

// Record builds the record that admission will insert for a ticket
func (r *IdentifierRegistry) Record(communityID, value, ticketID string) (*model.TransactionRecord, error) {
	v, err := NormalizeIdentifier(value)
	if err != nil {
		return nil, err
	}
	return &model.TransactionRecord{
		CommunityID: communityID,
		Value:       v,
		TicketID:    ticketID,
		CreatedOn:   r.clock.Now().UTC(),
	}, nil
}

// TryRegister inserts (communityID, value) with a single atomic
// check-and-insert. ErrDuplicateIdentifier if it was already used.
func (r *IdentifierRegistry) TryRegister(ctx context.Context, communityID, value, ticketID string) (*model.TransactionRecord, error) {
	rec, err := r.Record(communityID, value, ticketID)
	if err != nil {
		return nil, err
	}
	if err := r.repo.Register(ctx, rec); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrDuplicateIdentifier
		}
		return nil, storeError("register identifier", err)
	}
	return rec, nil
}

// Lookup returns the record for an identifier, or nil if unused
func (r *IdentifierRegistry) Lookup(ctx context.Context, communityID, value string) (*model.TransactionRecord, error) {
	v, err := NormalizeIdentifier(value)
	if err != nil {
		return nil, err
	}
	rec, err := r.repo.Get(ctx, communityID, v)
	if err != nil {
		return nil, storeError("get identifier", err)
	}
	return rec, nil
}

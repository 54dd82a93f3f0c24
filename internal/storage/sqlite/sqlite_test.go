package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
	"github.com/forgo/queuedesk/internal/service"
	"github.com/forgo/queuedesk/internal/storage/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := OpenPool(PoolConfig{Path: filepath.Join(t.TempDir(), "queuedesk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return New(pool)
}

func TestConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) service.Store {
		s := openTestStore(t)
		return service.Store{
			Tickets:     s.Tickets(),
			Identifiers: s.Identifiers(),
			Settings:    s.Settings(),
			Duty:        s.Duty(),
		}
	})
}

func TestOpenPool_RequiresPath(t *testing.T) {
	t.Parallel()
	_, err := OpenPool(PoolConfig{})
	assert.Error(t, err)
}

func TestOpenPool_SchemaIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "queuedesk.db")

	first, err := OpenPool(PoolConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenPool(PoolConfig{Path: path})
	require.NoError(t, err)
	defer second.Close()
	assert.NoError(t, second.Ping(context.Background()))
}

func TestTicketsSurviveReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queuedesk.db")
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	pool, err := OpenPool(PoolConfig{Path: path})
	require.NoError(t, err)
	store := New(pool)
	require.NoError(t, store.Tickets().Create(ctx, &model.Ticket{
		ID:          "t1",
		CommunityID: "g1",
		Number:      1,
		ChannelRef:  "c1",
		RequesterID: "u1",
		Status:      model.TicketStatusAwaitingEvidence,
		Version:     1,
		CreatedOn:   at,
		UpdatedOn:   at,
	}))
	_, err = store.Tickets().Admit(ctx, model.AdmissionParams{
		TicketID:        "t1",
		CommunityID:     "g1",
		ExpectedVersion: 1,
		Identifier:      &model.TransactionRecord{CommunityID: "g1", Value: "tx-1", TicketID: "t1", CreatedOn: at},
		At:              at,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	pool, err = OpenPool(PoolConfig{Path: path})
	require.NoError(t, err)
	defer pool.Close()
	store = New(pool)

	got, err := store.Tickets().GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.TicketStatusPaid, got.Status)
	require.NotNil(t, got.QueueNumber)
	assert.Equal(t, int64(1), *got.QueueNumber)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "tx-1", *got.TransactionID)
	assert.True(t, got.CreatedOn.Equal(at), "timestamps keep nanosecond precision")
	assert.Nil(t, got.ClosedOn)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   error
		want error
	}{
		{database.ErrNotFound, database.ErrNotFound},
		{database.ErrConflict, database.ErrConflict},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), database.ErrConnection},
		{errors.New("syntax error"), database.ErrQuery},
	}

	for _, tt := range tests {
		assert.ErrorIs(t, classify(tt.in), tt.want, "classify(%v)", tt.in)
	}
	assert.NoError(t, classify(nil))
}

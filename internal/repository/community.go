package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgo/queuedesk/internal/database"
	"github.com/forgo/queuedesk/internal/model"
)

// upsertCounter returns a statement that creates the settings record on
// first use and increments one counter field
func upsertCounter(field string) string {
	return `UPSERT ONLY type::thing("community_settings", $community_id) SET
			community_id = $community_id,
			queue_counter = (queue_counter ?? 0)` + increment(field, "queue_counter") + `,
			ticket_counter = (ticket_counter ?? 0)` + increment(field, "ticket_counter") + `,
			created_on = created_on ?? $at,
			updated_on = $at
		RETURN AFTER`
}

func increment(field, name string) string {
	if field == name {
		return " + 1"
	}
	return ""
}

// IdentifierRepository handles transaction identifier data access
type IdentifierRepository struct {
	db database.Database
}

// NewIdentifierRepository creates a new identifier repository
func NewIdentifierRepository(db database.Database) *IdentifierRepository {
	return &IdentifierRepository{db: db}
}

// Register records an identifier as used. The record id is derived from
// (community, value), so a second registration fails with ErrDuplicate.
func (r *IdentifierRepository) Register(ctx context.Context, rec *model.TransactionRecord) error {
	tb := database.NewTxBuilder()
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

	if _, err := runScript(ctx, r.db, tb); err != nil {
		return fmt.Errorf("failed to register identifier: %w", err)
	}
	return nil
}

// Get retrieves an identifier record
func (r *IdentifierRepository) Get(ctx context.Context, communityID, value string) (*model.TransactionRecord, error) {
	result, err := r.db.QueryOne(ctx, `SELECT * FROM type::thing("transaction_identifier", [$community_id, $value])`,
		map[string]interface{}{
			"community_id": communityID,
			"value":        value,
		})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get identifier: %w", err)
	}

	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected result format")
	}
	rec := &model.TransactionRecord{
		CommunityID: getString(data, "community_id"),
		Value:       getString(data, "value"),
		TicketID:    getString(data, "ticket_id"),
	}
	if t := getTime(data, "created_on"); t != nil {
		rec.CreatedOn = *t
	}
	return rec, nil
}

// SettingsRepository handles per-community settings and counters
type SettingsRepository struct {
	db  database.Database
	now func() time.Time
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db database.Database) *SettingsRepository {
	return &SettingsRepository{db: db, now: time.Now}
}

// Get returns the settings, creating them on first use
func (r *SettingsRepository) Get(ctx context.Context, communityID string) (*model.CommunitySettings, error) {
	return r.upsert(ctx, communityID, upsertCounter(""), nil)
}

// NextTicketNumber increments and returns the display counter
func (r *SettingsRepository) NextTicketNumber(ctx context.Context, communityID string) (int64, error) {
	settings, err := r.upsert(ctx, communityID, upsertCounter("ticket_counter"), nil)
	if err != nil {
		return 0, err
	}
	return settings.TicketCounter, nil
}

// SetPanelChannel records the channel holding the ticket panel
func (r *SettingsRepository) SetPanelChannel(ctx context.Context, communityID, channelRef string) (*model.CommunitySettings, error) {
	return r.upsert(ctx, communityID, `UPSERT ONLY type::thing("community_settings", $community_id) SET
			community_id = $community_id,
			queue_counter = queue_counter ?? 0,
			ticket_counter = ticket_counter ?? 0,
			panel_channel_ref = $channel_ref,
			created_on = created_on ?? $at,
			updated_on = $at
		RETURN AFTER`,
		map[string]interface{}{"channel_ref": channelRef})
}

func (r *SettingsRepository) upsert(ctx context.Context, communityID, query string, extra map[string]interface{}) (*model.CommunitySettings, error) {
	vars := map[string]interface{}{
		"community_id": communityID,
		"at":           datetime(r.now()),
	}
	for k, v := range extra {
		vars[k] = v
	}

	tb := database.NewTxBuilder()
	tb.Add(query, vars)
	results, err := runScript(ctx, r.db, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	result, err := database.LastResult(results)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return parseSettings(result)
}

func parseSettings(result interface{}) (*model.CommunitySettings, error) {
	data, ok := result.(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected result format")
	}

	queueCounter, _ := getInt64(data, "queue_counter")
	ticketCounter, _ := getInt64(data, "ticket_counter")
	settings := &model.CommunitySettings{
		CommunityID:     getString(data, "community_id"),
		QueueCounter:    queueCounter,
		TicketCounter:   ticketCounter,
		PanelChannelRef: getStringPtr(data, "panel_channel_ref"),
	}
	if t := getTime(data, "created_on"); t != nil {
		settings.CreatedOn = *t
	}
	if t := getTime(data, "updated_on"); t != nil {
		settings.UpdatedOn = *t
	}
	return settings, nil
}

// DutyRepository handles staff on-duty flags
type DutyRepository struct {
	db database.Database
}

// NewDutyRepository creates a new duty repository
func NewDutyRepository(db database.Database) *DutyRepository {
	return &DutyRepository{db: db}
}

// SetDuty records whether a staff member is taking tickets
func (r *DutyRepository) SetDuty(ctx context.Context, duty *model.StaffDuty) error {
	query := `UPSERT type::thing("staff_duty", [$community_id, $user_id]) SET
		community_id = $community_id,
		user_id = $user_id,
		on_duty = $on_duty,
		updated_on = $updated_on`
	vars := map[string]interface{}{
		"community_id": duty.CommunityID,
		"user_id":      duty.UserID,
		"on_duty":      duty.OnDuty,
		"updated_on":   datetime(duty.UpdatedOn),
	}

	if err := r.db.Execute(ctx, query, vars); err != nil {
		return fmt.Errorf("failed to set staff duty: %w", err)
	}
	return nil
}

// ListOnDuty returns the community's on-duty staff ordered by user id
func (r *DutyRepository) ListOnDuty(ctx context.Context, communityID string) ([]*model.StaffDuty, error) {
	result, err := r.db.Query(ctx, `SELECT * FROM staff_duty
		WHERE community_id = $community_id AND on_duty = true
		ORDER BY user_id ASC`,
		map[string]interface{}{"community_id": communityID})
	if err != nil {
		return nil, fmt.Errorf("failed to list on-duty staff: %w", err)
	}

	rows := records(result)
	out := make([]*model.StaffDuty, 0, len(rows))
	for _, data := range rows {
		duty := &model.StaffDuty{
			CommunityID: getString(data, "community_id"),
			UserID:      getString(data, "user_id"),
			OnDuty:      getBool(data, "on_duty"),
		}
		if t := getTime(data, "updated_on"); t != nil {
			duty.UpdatedOn = *t
		}
		out = append(out, duty)
	}
	return out, nil
}

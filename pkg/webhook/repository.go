package webhook

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/voicetyped/campaignflow/pkg/events"
)

// ErrNotFound is returned when an endpoint or dead letter does not exist.
var ErrNotFound = errors.New("webhook: not found")

// Repository stores endpoints, delivery attempts and dead letters in the
// service datastore.
type Repository struct {
	pool pool.Pool
}

func NewRepository(p pool.Pool) *Repository {
	return &Repository{pool: p}
}

func (r *Repository) reader(ctx context.Context) *gorm.DB { return r.pool.DB(ctx, true) }
func (r *Repository) writer(ctx context.Context) *gorm.DB { return r.pool.DB(ctx, false) }

// Migrate creates or updates the webhook tables.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.writer(ctx).AutoMigrate(&WebhookEndpoint{}, &DeliveryAttempt{}, &DeadLetter{})
}

// firstByID loads one row and maps a missing row to ErrNotFound.
func firstByID[T any](db *gorm.DB, id string) (*T, error) {
	var row T
	err := db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) CreateEndpoint(ctx context.Context, wh *WebhookEndpoint) error {
	return r.writer(ctx).Create(wh).Error
}

func (r *Repository) GetByID(ctx context.Context, id string) (*WebhookEndpoint, error) {
	return firstByID[WebhookEndpoint](r.reader(ctx), id)
}

// ListForEnvelope returns active endpoints whose kind and action filters
// accept env. Filters live in JSON columns so matching happens here.
func (r *Repository) ListForEnvelope(ctx context.Context, env events.Envelope) ([]WebhookEndpoint, error) {
	var active []WebhookEndpoint
	if err := r.reader(ctx).Where("is_active = ?", true).Find(&active).Error; err != nil {
		return nil, err
	}
	n := 0
	for _, wh := range active {
		if wh.Matches(env) {
			active[n] = wh
			n++
		}
	}
	return active[:n], nil
}

// ListAll returns every endpoint, active or not, oldest first.
func (r *Repository) ListAll(ctx context.Context) ([]WebhookEndpoint, error) {
	var endpoints []WebhookEndpoint
	err := r.reader(ctx).Order("created_at ASC").Find(&endpoints).Error
	return endpoints, err
}

func (r *Repository) Update(ctx context.Context, wh *WebhookEndpoint) error {
	return r.writer(ctx).Save(wh).Error
}

// RecordFailureState stores the breaker state after a delivery. failed bumps
// the failure counter.
func (r *Repository) RecordFailureState(ctx context.Context, webhookID, circuitState string, failed bool) error {
	updates := map[string]any{"circuit_state": circuitState}
	if failed {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
		updates["last_failure_at"] = gorm.Expr("CURRENT_TIMESTAMP")
	}
	return r.writer(ctx).Model(&WebhookEndpoint{}).Where("id = ?", webhookID).Updates(updates).Error
}

// Delete soft-deletes an endpoint. Deleting a missing endpoint reports
// ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res := r.writer(ctx).Where("id = ?", id).Delete(&WebhookEndpoint{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) RecordDelivery(ctx context.Context, da *DeliveryAttempt) error {
	return r.writer(ctx).Create(da).Error
}

// ListDeliveries pages through the attempts of one endpoint, newest first.
// A non-positive limit returns everything.
func (r *Repository) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]DeliveryAttempt, error) {
	q := r.reader(ctx).Where("webhook_id = ?", webhookID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(max(offset, 0))
	}
	var attempts []DeliveryAttempt
	err := q.Find(&attempts).Error
	return attempts, err
}

func (r *Repository) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	return r.writer(ctx).Create(dl).Error
}

func (r *Repository) GetDeadLetterByID(ctx context.Context, id string) (*DeadLetter, error) {
	return firstByID[DeadLetter](r.reader(ctx), id)
}

// ListDeadLetters returns the still-replayable dead letters of an endpoint.
func (r *Repository) ListDeadLetters(ctx context.Context, webhookID string) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := r.reader(ctx).
		Where("webhook_id = ? AND replayable = ?", webhookID, true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

// MarkDeadLetterReplayed clears the replayable flag so a letter is replayed
// at most once.
func (r *Repository) MarkDeadLetterReplayed(ctx context.Context, id string) error {
	res := r.writer(ctx).Model(&DeadLetter{}).
		Where("id = ? AND replayable = ?", id, true).
		Update("replayable", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

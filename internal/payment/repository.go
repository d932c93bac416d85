package payment

import (
	"context"
	"database/sql"
	"errors"
)

// Repository keeps an idempotency log of received payment callbacks.
type Repository interface {
	// SaveWebhook records the callback. isDuplicate is true when the same
	// (provider, eventID) was already stored and processed. A stored but
	// unprocessed event returns its existing id with isDuplicate false.
	SaveWebhook(ctx context.Context, w *Webhook) (webhookID int64, isDuplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveWebhook(ctx context.Context, w *Webhook) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_id,
		order_id,
		status,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (provider, event_id)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		w.Provider,
		w.EventID,
		w.OrderID,
		w.Status,
		w.SignatureValid,
		[]byte(w.Payload),
	).Scan(&id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.existingWebhook(ctx, w)
		}
		return 0, false, err
	}

	return id, false, nil
}

// existingWebhook resolves a redelivered event to its stored row. The
// event only counts as a duplicate once that row was processed; a
// redelivery after a failed attempt is applied again.
func (r *repository) existingWebhook(ctx context.Context, w *Webhook) (int64, bool, error) {
	const q = `
	SELECT id, processed_at IS NOT NULL
	FROM payment_webhooks
	WHERE provider = $1 AND event_id = $2;
	`

	var (
		id        int64
		processed bool
	)
	if err := r.db.QueryRowContext(ctx, q, w.Provider, w.EventID).Scan(&id, &processed); err != nil {
		return 0, false, err
	}

	return id, processed, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	const q = `
	UPDATE payment_webhooks
	SET processed_at = now(), process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}

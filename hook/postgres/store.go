// Package postgres implements the hook store interfaces against a
// PostgreSQL schema, following the query-per-method shape of the
// package's auth counterpart but with a transactional WithTx so the
// fan-out trigger can insert an event and its request attempts in one
// atomic unit.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every method
// below run unmodified whether or not it is inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type store struct {
	db *sql.DB
	q  querier
}

// NewStore returns a hook.Store backed by db.
func NewStore(db *sql.DB) hook.Store {
	return &store{db: db, q: db}
}

func (s *store) WithTx(ctx context.Context, fn func(tx hook.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txStore := &store{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *store) CreateApplication(ctx context.Context, app *hook.Application) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO application (id, name, org_id, created_at) VALUES ($1, $2, $3, $4)`,
		app.ID, app.Name, app.OrgID, app.CreatedAt,
	)
	return err
}

func (s *store) GetApplication(ctx context.Context, id uuid.UUID) (*hook.Application, error) {
	app := &hook.Application{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, org_id, created_at, deleted_at FROM application WHERE id = $1`, id,
	).Scan(&app.ID, &app.Name, &app.OrgID, &app.CreatedAt, &app.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, hook.ErrApplicationNotFound
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *store) CreateSubscription(ctx context.Context, sub *hook.Subscription) error {
	labelsJSON, err := marshalLabels(sub.Labels)
	if err != nil {
		return err
	}
	headersJSON, err := json.Marshal(sub.Target.Headers)
	if err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO target_http (target_id, method, url, headers_json) VALUES ($1, $2, $3, $4)`,
		sub.Target.ID, sub.Target.Method, sub.Target.URL, headersJSON,
	); err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO subscription (
			id, application_id, is_enabled, description, secret,
			label_key, label_value, labels_json, target_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.ApplicationID, sub.IsEnabled, sub.Description, sub.Secret,
		sub.LabelKey, sub.LabelValue, labelsJSON, sub.Target.ID, sub.CreatedAt,
	); err != nil {
		return err
	}

	for name := range sub.EventTypes {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO subscription__event_type (subscription_id, event_type_name) VALUES ($1, $2)`,
			sub.ID, name,
		); err != nil {
			return err
		}
	}
	for worker := range sub.WorkerNames {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO subscription__worker (subscription_id, worker_id) VALUES ($1, $2)`,
			sub.ID, worker,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) GetSubscription(ctx context.Context, id uuid.UUID) (*hook.Subscription, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT s.id, s.application_id, s.is_enabled, s.description, s.secret,
			s.label_key, s.label_value, s.labels_json, s.created_at, s.deleted_at,
			t.target_id, t.method, t.url, t.headers_json
		FROM subscription s JOIN target_http t ON t.target_id = s.target_id
		WHERE s.id = $1`, id,
	)
	sub, labelsJSON, headersJSON, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, hook.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalLabels(labelsJSON, &sub.Labels); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(headersJSON, &sub.Target.Headers); err != nil {
		return nil, err
	}
	if err := s.loadSubscriptionSets(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *store) loadSubscriptionSets(ctx context.Context, sub *hook.Subscription) error {
	eventTypes, err := s.q.QueryContext(ctx,
		`SELECT event_type_name FROM subscription__event_type WHERE subscription_id = $1`, sub.ID)
	if err != nil {
		return err
	}
	defer eventTypes.Close()
	sub.EventTypes = map[string]bool{}
	for eventTypes.Next() {
		var name string
		if err := eventTypes.Scan(&name); err != nil {
			return err
		}
		sub.EventTypes[name] = true
	}
	if err := eventTypes.Err(); err != nil {
		return err
	}

	workers, err := s.q.QueryContext(ctx,
		`SELECT worker_id FROM subscription__worker WHERE subscription_id = $1`, sub.ID)
	if err != nil {
		return err
	}
	defer workers.Close()
	sub.WorkerNames = map[string]bool{}
	for workers.Next() {
		var name string
		if err := workers.Scan(&name); err != nil {
			return err
		}
		sub.WorkerNames[name] = true
	}
	return workers.Err()
}

func (s *store) UpdateSubscription(ctx context.Context, sub *hook.Subscription) error {
	labelsJSON, err := marshalLabels(sub.Labels)
	if err != nil {
		return err
	}
	result, err := s.q.ExecContext(ctx,
		`UPDATE subscription SET is_enabled = $2, description = $3, secret = $4,
			label_key = $5, label_value = $6, labels_json = $7
		WHERE id = $1`,
		sub.ID, sub.IsEnabled, sub.Description, sub.Secret, sub.LabelKey, sub.LabelValue, labelsJSON,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hook.ErrSubscriptionNotFound
	}
	return nil
}

func (s *store) ListActiveForApplication(ctx context.Context, applicationID uuid.UUID) ([]*hook.Subscription, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT s.id, s.application_id, s.is_enabled, s.description, s.secret,
			s.label_key, s.label_value, s.labels_json, s.created_at, s.deleted_at,
			t.target_id, t.method, t.url, t.headers_json
		FROM subscription s JOIN target_http t ON t.target_id = s.target_id
		WHERE s.application_id = $1 AND s.is_enabled = true AND s.deleted_at IS NULL`,
		applicationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*hook.Subscription
	for rows.Next() {
		sub, labelsJSON, headersJSON, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if err := unmarshalLabels(labelsJSON, &sub.Labels); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headersJSON, &sub.Target.Headers); err != nil {
			return nil, err
		}
		if err := s.loadSubscriptionSets(ctx, sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *store) DisableSubscription(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `UPDATE subscription SET is_enabled = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hook.ErrSubscriptionNotFound
	}
	return nil
}

func (s *store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `UPDATE subscription SET deleted_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hook.ErrSubscriptionNotFound
	}
	return nil
}

func (s *store) ListCascading(ctx context.Context) ([]*hook.Subscription, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT s.id, s.application_id, s.is_enabled, s.description, s.secret,
			s.label_key, s.label_value, s.labels_json, s.created_at, s.deleted_at,
			t.target_id, t.method, t.url, t.headers_json
		FROM subscription s JOIN target_http t ON t.target_id = s.target_id
		WHERE s.is_enabled = false OR s.deleted_at IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*hook.Subscription
	for rows.Next() {
		sub, labelsJSON, headersJSON, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if err := unmarshalLabels(labelsJSON, &sub.Labels); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headersJSON, &sub.Target.Headers); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *store) CreateEvent(ctx context.Context, event *hook.Event) error {
	labelsJSON, err := json.Marshal(event.Labels)
	if err != nil {
		return err
	}
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO event (
			id, application_id, event_type_name, payload, payload_content_type,
			occurred_at, received_at, labels_json, ingesting_token_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.ApplicationID, event.EventTypeName, event.Payload, event.PayloadContentType,
		event.OccurredAt, event.ReceivedAt, labelsJSON, event.IngestingTokenID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hook.ErrEventAlreadyExists
	}
	return nil
}

func (s *store) GetEvent(ctx context.Context, id uuid.UUID) (*hook.Event, error) {
	event := &hook.Event{}
	var labelsJSON []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT id, application_id, event_type_name, payload, payload_content_type,
			occurred_at, received_at, dispatched_at, labels_json, ingesting_token_id
		FROM event WHERE id = $1`, id,
	).Scan(&event.ID, &event.ApplicationID, &event.EventTypeName, &event.Payload, &event.PayloadContentType,
		&event.OccurredAt, &event.ReceivedAt, &event.DispatchedAt, &labelsJSON, &event.IngestingTokenID)
	if err == sql.ErrNoRows {
		return nil, hook.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(labelsJSON, &event.Labels); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *store) MarkEventDispatched(ctx context.Context, id uuid.UUID, dispatchedAt time.Time) error {
	result, err := s.q.ExecContext(ctx, `UPDATE event SET dispatched_at = $2 WHERE id = $1`, id, dispatchedAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hook.ErrEventNotFound
	}
	return nil
}

func (s *store) CreateAttempt(ctx context.Context, attempt *hook.RequestAttempt) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO request_attempt (
			id, event_id, subscription_id, created_at, delay_until, retry_count, worker_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.EventID, attempt.SubscriptionID, attempt.CreatedAt,
		attempt.DelayUntil, attempt.RetryCount, attempt.WorkerName,
	)
	return err
}

func (s *store) GetAttempt(ctx context.Context, id uuid.UUID) (*hook.RequestAttempt, error) {
	a := &hook.RequestAttempt{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, event_id, subscription_id, created_at, picked_at, failed_at, succeeded_at,
			delay_until, response_id, retry_count, worker_name
		FROM request_attempt WHERE id = $1`, id,
	).Scan(&a.ID, &a.EventID, &a.SubscriptionID, &a.CreatedAt, &a.PickedAt, &a.FailedAt, &a.SucceededAt,
		&a.DelayUntil, &a.ResponseID, &a.RetryCount, &a.WorkerName)
	if err == sql.ErrNoRows {
		return nil, hook.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *store) ClaimBatch(ctx context.Context, workerName string, limit int, now time.Time) ([]*hook.RequestAttempt, error) {
	rows, err := s.q.QueryContext(ctx,
		`UPDATE request_attempt SET picked_at = $1, worker_name = $2
		WHERE id IN (
			SELECT ra.id FROM request_attempt ra
			JOIN subscription sub ON sub.id = ra.subscription_id
			WHERE ra.picked_at IS NULL AND ra.failed_at IS NULL AND ra.succeeded_at IS NULL
				AND (ra.delay_until IS NULL OR ra.delay_until <= $1)
				AND sub.is_enabled = true AND sub.deleted_at IS NULL
				AND (
					NOT EXISTS (SELECT 1 FROM subscription__worker sw WHERE sw.subscription_id = sub.id)
					OR EXISTS (SELECT 1 FROM subscription__worker sw WHERE sw.subscription_id = sub.id AND sw.worker_id = $2)
				)
			ORDER BY ra.created_at, ra.id
			LIMIT $3
			FOR UPDATE OF ra SKIP LOCKED
		)
		RETURNING id, event_id, subscription_id, created_at, picked_at, failed_at, succeeded_at,
			delay_until, response_id, retry_count, worker_name`,
		now, workerName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []*hook.RequestAttempt
	for rows.Next() {
		a := &hook.RequestAttempt{}
		if err := rows.Scan(&a.ID, &a.EventID, &a.SubscriptionID, &a.CreatedAt, &a.PickedAt, &a.FailedAt,
			&a.SucceededAt, &a.DelayUntil, &a.ResponseID, &a.RetryCount, &a.WorkerName); err != nil {
			return nil, err
		}
		claimed = append(claimed, a)
	}
	return claimed, rows.Err()
}

func (s *store) CompleteSuccess(ctx context.Context, attemptID, responseID uuid.UUID, now time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE request_attempt SET succeeded_at = $2, response_id = $3 WHERE id = $1`,
		attemptID, now, responseID,
	)
	return err
}

func (s *store) CompleteFailure(ctx context.Context, attemptID, responseID uuid.UUID, retryable bool, next *hook.RequestAttempt, now time.Time) error {
	if _, inTx := s.q.(*sql.Tx); !inTx && retryable && next != nil {
		return s.WithTx(ctx, func(tx hook.Store) error {
			return tx.CompleteFailure(ctx, attemptID, responseID, retryable, next, now)
		})
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE request_attempt SET failed_at = $2, response_id = $3 WHERE id = $1`,
		attemptID, now, responseID,
	)
	if err != nil {
		return err
	}
	if retryable && next != nil {
		return s.CreateAttempt(ctx, next)
	}
	return nil
}

func (s *store) FailCascading(ctx context.Context, subscriptionID uuid.UUID, kind hook.ErrorKind, now time.Time) (int, error) {
	var pending int
	if err := s.q.QueryRowContext(ctx,
		`SELECT count(*) FROM request_attempt
		WHERE subscription_id = $1 AND failed_at IS NULL AND succeeded_at IS NULL`,
		subscriptionID,
	).Scan(&pending); err != nil {
		return 0, err
	}
	if pending == 0 {
		return 0, nil
	}

	responseID := uuid.New()
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO response (id, error_kind, elapsed_time_ms) VALUES ($1, $2, 0)`, responseID, kind,
	); err != nil {
		return 0, err
	}
	result, err := s.q.ExecContext(ctx,
		`UPDATE request_attempt SET failed_at = $2, response_id = $3
		WHERE subscription_id = $1 AND failed_at IS NULL AND succeeded_at IS NULL`,
		subscriptionID, now, responseID,
	)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *store) SweepStuck(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE request_attempt SET picked_at = NULL, worker_name = NULL
		WHERE picked_at IS NOT NULL AND picked_at < $1 AND failed_at IS NULL AND succeeded_at IS NULL`,
		olderThan,
	)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (s *store) CreateResponse(ctx context.Context, r *hook.Response) error {
	headersJSON, err := json.Marshal(r.Headers)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO response (id, error_kind, http_code, headers_json, body, elapsed_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ErrorKind, r.HTTPCode, headersJSON, r.Body, r.ElapsedTimeMS,
	)
	return err
}

func (s *store) GetResponse(ctx context.Context, id uuid.UUID) (*hook.Response, error) {
	r := &hook.Response{}
	var headersJSON []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT id, error_kind, http_code, headers_json, body, elapsed_time_ms FROM response WHERE id = $1`, id,
	).Scan(&r.ID, &r.ErrorKind, &r.HTTPCode, &headersJSON, &r.Body, &r.ElapsedTimeMS)
	if err == sql.ErrNoRows {
		return nil, hook.ErrResponseNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &r.Headers); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func marshalLabels(labels map[string]string) ([]byte, error) {
	if labels == nil {
		return nil, nil
	}
	return json.Marshal(labels)
}

func unmarshalLabels(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// scanRow is satisfied by *sql.Row and *sql.Rows.
type scanRow interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanRow) (*hook.Subscription, []byte, []byte, error) {
	sub := &hook.Subscription{}
	var labelsJSON, headersJSON []byte
	err := row.Scan(
		&sub.ID, &sub.ApplicationID, &sub.IsEnabled, &sub.Description, &sub.Secret,
		&sub.LabelKey, &sub.LabelValue, &labelsJSON, &sub.CreatedAt, &sub.DeletedAt,
		&sub.Target.ID, &sub.Target.Method, &sub.Target.URL, &headersJSON,
	)
	return sub, labelsJSON, headersJSON, err
}

var _ hook.Store = (*store)(nil)

// Package fake implements hook.Store as an in-memory map, for unit tests
// and for local development with database.driver=fake, following the
// mutex-protected map shape of the package's auth counterpart.
package fake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/hook"
)

// Store is an in-memory hook.Store. WithTx has no real atomicity: it
// holds the single store-wide lock for the duration of fn, which is
// sufficient to give fan-out the same observable all-or-nothing behavior
// a database transaction would, since nothing else can run concurrently.
type Store struct {
	mu sync.Mutex

	applications  map[uuid.UUID]*hook.Application
	subscriptions map[uuid.UUID]*hook.Subscription
	events        map[uuid.UUID]*hook.Event
	attempts      map[uuid.UUID]*hook.RequestAttempt
	responses     map[uuid.UUID]*hook.Response
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		applications:  make(map[uuid.UUID]*hook.Application),
		subscriptions: make(map[uuid.UUID]*hook.Subscription),
		events:        make(map[uuid.UUID]*hook.Event),
		attempts:      make(map[uuid.UUID]*hook.RequestAttempt),
		responses:     make(map[uuid.UUID]*hook.Response),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx hook.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&lockedStore{s})
}

// lockedStore re-exposes Store's methods to code already holding s.mu, so
// WithTx's callback can call them without deadlocking.
type lockedStore struct {
	s *Store
}

func (l *lockedStore) WithTx(ctx context.Context, fn func(tx hook.Store) error) error {
	return fn(l)
}
func (l *lockedStore) CreateApplication(ctx context.Context, app *hook.Application) error {
	return l.s.createApplication(app)
}
func (l *lockedStore) GetApplication(ctx context.Context, id uuid.UUID) (*hook.Application, error) {
	return l.s.getApplication(id)
}
func (l *lockedStore) CreateSubscription(ctx context.Context, sub *hook.Subscription) error {
	return l.s.createSubscription(sub)
}
func (l *lockedStore) GetSubscription(ctx context.Context, id uuid.UUID) (*hook.Subscription, error) {
	return l.s.getSubscription(id)
}
func (l *lockedStore) UpdateSubscription(ctx context.Context, sub *hook.Subscription) error {
	return l.s.updateSubscription(sub)
}
func (l *lockedStore) ListActiveForApplication(ctx context.Context, applicationID uuid.UUID) ([]*hook.Subscription, error) {
	return l.s.listActiveForApplication(applicationID)
}
func (l *lockedStore) DisableSubscription(ctx context.Context, id uuid.UUID) error {
	return l.s.disableSubscription(id)
}
func (l *lockedStore) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	return l.s.deleteSubscription(id)
}
func (l *lockedStore) ListCascading(ctx context.Context) ([]*hook.Subscription, error) {
	return l.s.listCascading()
}
func (l *lockedStore) CreateEvent(ctx context.Context, event *hook.Event) error {
	return l.s.createEvent(event)
}
func (l *lockedStore) GetEvent(ctx context.Context, id uuid.UUID) (*hook.Event, error) {
	return l.s.getEvent(id)
}
func (l *lockedStore) MarkEventDispatched(ctx context.Context, id uuid.UUID, dispatchedAt time.Time) error {
	return l.s.markEventDispatched(id, dispatchedAt)
}
func (l *lockedStore) CreateAttempt(ctx context.Context, attempt *hook.RequestAttempt) error {
	return l.s.createAttempt(attempt)
}
func (l *lockedStore) GetAttempt(ctx context.Context, id uuid.UUID) (*hook.RequestAttempt, error) {
	return l.s.getAttempt(id)
}
func (l *lockedStore) ClaimBatch(ctx context.Context, workerName string, limit int, now time.Time) ([]*hook.RequestAttempt, error) {
	return l.s.claimBatch(workerName, limit, now)
}
func (l *lockedStore) CompleteSuccess(ctx context.Context, attemptID, responseID uuid.UUID, now time.Time) error {
	return l.s.completeSuccess(attemptID, responseID, now)
}
func (l *lockedStore) CompleteFailure(ctx context.Context, attemptID, responseID uuid.UUID, retryable bool, next *hook.RequestAttempt, now time.Time) error {
	return l.s.completeFailure(attemptID, responseID, retryable, next, now)
}
func (l *lockedStore) FailCascading(ctx context.Context, subscriptionID uuid.UUID, kind hook.ErrorKind, now time.Time) (int, error) {
	return l.s.failCascading(subscriptionID, kind, now)
}
func (l *lockedStore) SweepStuck(ctx context.Context, olderThan time.Time) (int, error) {
	return l.s.sweepStuck(olderThan)
}
func (l *lockedStore) CreateResponse(ctx context.Context, response *hook.Response) error {
	return l.s.createResponse(response)
}
func (l *lockedStore) GetResponse(ctx context.Context, id uuid.UUID) (*hook.Response, error) {
	return l.s.getResponse(id)
}

func (s *Store) CreateApplication(ctx context.Context, app *hook.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createApplication(app)
}

func (s *Store) createApplication(app *hook.Application) error {
	if _, exists := s.applications[app.ID]; exists {
		return hook.ErrEventAlreadyExists
	}
	s.applications[app.ID] = app
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*hook.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getApplication(id)
}

func (s *Store) getApplication(id uuid.UUID) (*hook.Application, error) {
	app, exists := s.applications[id]
	if !exists {
		return nil, hook.ErrApplicationNotFound
	}
	return app, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *hook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createSubscription(sub)
}

func (s *Store) createSubscription(sub *hook.Subscription) error {
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*hook.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSubscription(id)
}

func (s *Store) getSubscription(id uuid.UUID) (*hook.Subscription, error) {
	sub, exists := s.subscriptions[id]
	if !exists {
		return nil, hook.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *hook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSubscription(sub)
}

func (s *Store) updateSubscription(sub *hook.Subscription) error {
	if _, exists := s.subscriptions[sub.ID]; !exists {
		return hook.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *Store) ListActiveForApplication(ctx context.Context, applicationID uuid.UUID) ([]*hook.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveForApplication(applicationID)
}

func (s *Store) listActiveForApplication(applicationID uuid.UUID) ([]*hook.Subscription, error) {
	var subs []*hook.Subscription
	for _, sub := range s.subscriptions {
		if sub.ApplicationID == applicationID && sub.IsEnabled && sub.DeletedAt == nil {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID.String() < subs[j].ID.String() })
	return subs, nil
}

func (s *Store) DisableSubscription(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableSubscription(id)
}

func (s *Store) disableSubscription(id uuid.UUID) error {
	sub, exists := s.subscriptions[id]
	if !exists {
		return hook.ErrSubscriptionNotFound
	}
	sub.IsEnabled = false
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSubscription(id)
}

func (s *Store) deleteSubscription(id uuid.UUID) error {
	sub, exists := s.subscriptions[id]
	if !exists {
		return hook.ErrSubscriptionNotFound
	}
	now := time.Now()
	sub.DeletedAt = &now
	return nil
}

func (s *Store) ListCascading(ctx context.Context) ([]*hook.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCascading()
}

func (s *Store) listCascading() ([]*hook.Subscription, error) {
	var subs []*hook.Subscription
	for _, sub := range s.subscriptions {
		if !sub.IsEnabled || sub.DeletedAt != nil {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID.String() < subs[j].ID.String() })
	return subs, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *hook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEvent(event)
}

func (s *Store) createEvent(event *hook.Event) error {
	if _, exists := s.events[event.ID]; exists {
		return hook.ErrEventAlreadyExists
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*hook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEvent(id)
}

func (s *Store) getEvent(id uuid.UUID) (*hook.Event, error) {
	event, exists := s.events[id]
	if !exists {
		return nil, hook.ErrEventNotFound
	}
	return event, nil
}

func (s *Store) MarkEventDispatched(ctx context.Context, id uuid.UUID, dispatchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markEventDispatched(id, dispatchedAt)
}

func (s *Store) markEventDispatched(id uuid.UUID, dispatchedAt time.Time) error {
	event, exists := s.events[id]
	if !exists {
		return hook.ErrEventNotFound
	}
	event.DispatchedAt = &dispatchedAt
	return nil
}

func (s *Store) CreateAttempt(ctx context.Context, attempt *hook.RequestAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAttempt(attempt)
}

func (s *Store) createAttempt(attempt *hook.RequestAttempt) error {
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (*hook.RequestAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAttempt(id)
}

func (s *Store) getAttempt(id uuid.UUID) (*hook.RequestAttempt, error) {
	attempt, exists := s.attempts[id]
	if !exists {
		return nil, hook.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Store) ClaimBatch(ctx context.Context, workerName string, limit int, now time.Time) ([]*hook.RequestAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimBatch(workerName, limit, now)
}

func (s *Store) claimBatch(workerName string, limit int, now time.Time) ([]*hook.RequestAttempt, error) {
	var candidates []*hook.RequestAttempt
	for _, a := range s.attempts {
		if !a.Claimable(now) {
			continue
		}
		sub, exists := s.subscriptions[a.SubscriptionID]
		if !exists || !sub.IsEnabled || sub.DeletedAt != nil || !sub.ClaimableBy(workerName) {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID.String() < candidates[j].ID.String()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, a := range candidates {
		picked := now
		a.PickedAt = &picked
		name := workerName
		a.WorkerName = &name
	}
	return candidates, nil
}

func (s *Store) CompleteSuccess(ctx context.Context, attemptID, responseID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeSuccess(attemptID, responseID, now)
}

func (s *Store) completeSuccess(attemptID, responseID uuid.UUID, now time.Time) error {
	attempt, exists := s.attempts[attemptID]
	if !exists {
		return hook.ErrAttemptNotFound
	}
	succeeded := now
	attempt.SucceededAt = &succeeded
	attempt.ResponseID = &responseID
	return nil
}

func (s *Store) CompleteFailure(ctx context.Context, attemptID, responseID uuid.UUID, retryable bool, next *hook.RequestAttempt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeFailure(attemptID, responseID, retryable, next, now)
}

func (s *Store) completeFailure(attemptID, responseID uuid.UUID, retryable bool, next *hook.RequestAttempt, now time.Time) error {
	attempt, exists := s.attempts[attemptID]
	if !exists {
		return hook.ErrAttemptNotFound
	}
	failed := now
	attempt.FailedAt = &failed
	attempt.ResponseID = &responseID
	if retryable && next != nil {
		return s.createAttempt(next)
	}
	return nil
}

func (s *Store) FailCascading(ctx context.Context, subscriptionID uuid.UUID, kind hook.ErrorKind, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCascading(subscriptionID, kind, now)
}

func (s *Store) failCascading(subscriptionID uuid.UUID, kind hook.ErrorKind, now time.Time) (int, error) {
	var affected []*hook.RequestAttempt
	for _, a := range s.attempts {
		if a.SubscriptionID != subscriptionID || a.FailedAt != nil || a.SucceededAt != nil {
			continue
		}
		affected = append(affected, a)
	}
	if len(affected) == 0 {
		return 0, nil
	}

	response := &hook.Response{ID: uuid.New(), ErrorKind: &kind}
	s.responses[response.ID] = response
	for _, a := range affected {
		failed := now
		a.FailedAt = &failed
		a.ResponseID = &response.ID
	}
	return len(affected), nil
}

func (s *Store) SweepStuck(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepStuck(olderThan)
}

func (s *Store) sweepStuck(olderThan time.Time) (int, error) {
	count := 0
	for _, a := range s.attempts {
		if a.PickedAt == nil || a.FailedAt != nil || a.SucceededAt != nil {
			continue
		}
		if a.PickedAt.Before(olderThan) {
			a.PickedAt = nil
			a.WorkerName = nil
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateResponse(ctx context.Context, response *hook.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createResponse(response)
}

func (s *Store) createResponse(response *hook.Response) error {
	s.responses[response.ID] = response
	return nil
}

func (s *Store) GetResponse(ctx context.Context, id uuid.UUID) (*hook.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getResponse(id)
}

func (s *Store) getResponse(id uuid.UUID) (*hook.Response, error) {
	response, exists := s.responses[id]
	if !exists {
		return nil, hook.ErrResponseNotFound
	}
	return response, nil
}

var _ hook.Store = (*Store)(nil)
var _ hook.Store = (*lockedStore)(nil)

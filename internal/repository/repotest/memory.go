// Package repotest provides in-memory repositories for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
)

// Store holds subscriptions, webhooks and attempts behind one mutex and
// hands out the three repository views over them. Set the *Err fields to
// make the matching calls fail.
type Store struct {
	mu            sync.Mutex
	subscriptions map[string]model.Subscription
	webhooks      map[string]model.Webhook
	attempts      []model.DeliveryAttempt

	SubscriptionGetErr error
	SubscriptionGets   int
	WebhookInsertErr   error
	AttemptInsertErr   error
	FinalizeErr        error
}

func NewStore() *Store {
	return &Store{
		subscriptions: map[string]model.Subscription{},
		webhooks:      map[string]model.Webhook{},
	}
}

func (s *Store) Subscriptions() *Subscriptions { return &Subscriptions{s} }
func (s *Store) Webhooks() *Webhooks           { return &Webhooks{s} }
func (s *Store) Attempts() *Attempts           { return &Attempts{s} }

// PutSubscription inserts or replaces a subscription.
func (s *Store) PutSubscription(sub model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
}

// PutWebhook inserts or replaces a webhook.
func (s *Store) PutWebhook(w model.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = w
}

// WebhookStatus returns the stored status, or "" when absent.
func (s *Store) WebhookStatus(id string) model.WebhookStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhooks[id].Status
}

func (s *Store) WebhookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.webhooks)
}

// AttemptsOf returns the attempts of one webhook ordered by attempt number.
func (s *Store) AttemptsOf(webhookID string) []model.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DeliveryAttempt
	for _, a := range s.attempts {
		if a.WebhookID == webhookID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

func (s *Store) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// PutAttempt appends an attempt without the duplicate check.
func (s *Store) PutAttempt(a model.DeliveryAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
}

func (s *Store) logRow(a model.DeliveryAttempt) model.AttemptLog {
	w := s.webhooks[a.WebhookID]
	return model.AttemptLog{
		DeliveryAttempt: a,
		SubscriptionID:  w.SubscriptionID,
		TargetURL:       s.subscriptions[w.SubscriptionID].TargetURL,
	}
}

func newestFirst(rows []model.AttemptLog) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].AttemptedAt.Equal(rows[j].AttemptedAt) {
			return rows[i].AttemptedAt.After(rows[j].AttemptedAt)
		}
		return rows[i].ID > rows[j].ID
	})
}

func page[T any](rows []T, skip, limit int) []T {
	if skip >= len(rows) {
		return []T{}
	}
	rows = rows[skip:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// ---- Subscriptions ----

type Subscriptions struct{ s *Store }

var _ repository.SubscriptionsRepository = (*Subscriptions)(nil)

func (r *Subscriptions) Get(_ context.Context, id string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.SubscriptionGets++
	if r.s.SubscriptionGetErr != nil {
		return nil, r.s.SubscriptionGetErr
	}
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sub, nil
}

func (r *Subscriptions) List(_ context.Context, skip, limit int) ([]model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Subscription, 0, len(r.s.subscriptions))
	for _, sub := range r.s.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, skip, limit), nil
}

func (r *Subscriptions) Create(_ context.Context, sub model.Subscription) error {
	r.s.PutSubscription(sub)
	return nil
}

func (r *Subscriptions) Update(_ context.Context, sub model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.subscriptions[sub.ID]
	if !ok {
		return repository.ErrNotFound
	}
	sub.CreatedAt = cur.CreatedAt
	r.s.subscriptions[sub.ID] = sub
	return nil
}

// Delete cascades to webhooks and attempts like the foreign keys do.
func (r *Subscriptions) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.subscriptions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.subscriptions, id)
	for wid, w := range r.s.webhooks {
		if w.SubscriptionID == id {
			delete(r.s.webhooks, wid)
		}
	}
	kept := r.s.attempts[:0]
	for _, a := range r.s.attempts {
		if _, ok := r.s.webhooks[a.WebhookID]; ok {
			kept = append(kept, a)
		}
	}
	r.s.attempts = kept
	return nil
}

// ---- Webhooks ----

type Webhooks struct{ s *Store }

var _ repository.WebhooksRepository = (*Webhooks)(nil)

func (r *Webhooks) Insert(_ context.Context, w model.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.WebhookInsertErr != nil {
		return r.s.WebhookInsertErr
	}
	r.s.webhooks[w.ID] = w
	return nil
}

func (r *Webhooks) Get(_ context.Context, id string) (*model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r *Webhooks) MarkProcessing(_ context.Context, id string) error {
	r.setPending(id, model.WebhookProcessing)
	return nil
}

func (r *Webhooks) MarkQueued(_ context.Context, id string) error {
	r.setPending(id, model.WebhookQueued)
	return nil
}

func (r *Webhooks) setPending(id string, status model.WebhookStatus) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if w, ok := r.s.webhooks[id]; ok && !w.Status.Terminal() {
		w.Status = status
		r.s.webhooks[id] = w
	}
}

func (r *Webhooks) Finalize(_ context.Context, id string, status model.WebhookStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FinalizeErr != nil {
		return false, r.s.FinalizeErr
	}
	w, ok := r.s.webhooks[id]
	if !ok || w.Status.Terminal() {
		return false, nil
	}
	w.Status = status
	r.s.webhooks[id] = w
	return true, nil
}

// ---- Attempts ----

type Attempts struct{ s *Store }

var _ repository.AttemptsRepository = (*Attempts)(nil)

func (r *Attempts) Insert(_ context.Context, a model.DeliveryAttempt) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.AttemptInsertErr != nil {
		return false, r.s.AttemptInsertErr
	}
	for _, cur := range r.s.attempts {
		if cur.WebhookID == a.WebhookID && cur.AttemptNumber == a.AttemptNumber {
			return false, nil
		}
	}
	r.s.attempts = append(r.s.attempts, a)
	return true, nil
}

func (r *Attempts) Get(_ context.Context, webhookID string, n int) (*model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.attempts {
		if a.WebhookID == webhookID && a.AttemptNumber == n {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Attempts) Latest(_ context.Context, webhookID string) (*model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.DeliveryAttempt
	for i := range r.s.attempts {
		a := r.s.attempts[i]
		if a.WebhookID == webhookID && (latest == nil || a.AttemptNumber > latest.AttemptNumber) {
			latest = &a
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *Attempts) ListByWebhook(_ context.Context, webhookID string) ([]model.AttemptLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.AttemptLog{}
	for _, a := range r.s.attempts {
		if a.WebhookID == webhookID {
			out = append(out, r.s.logRow(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *Attempts) ListBySubscription(_ context.Context, subscriptionID string, limit int) ([]model.AttemptLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.AttemptLog{}
	for _, a := range r.s.attempts {
		if row := r.s.logRow(a); row.SubscriptionID == subscriptionID {
			out = append(out, row)
		}
	}
	newestFirst(out)
	return page(out, 0, limit), nil
}

func (r *Attempts) List(_ context.Context, skip, limit int) ([]model.AttemptLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.AttemptLog, 0, len(r.s.attempts))
	for _, a := range r.s.attempts {
		out = append(out, r.s.logRow(a))
	}
	newestFirst(out)
	return page(out, skip, limit), nil
}

// ListOlderThan keeps each webhook's latest attempt out of the result like
// the SQL implementation.
func (r *Attempts) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := map[string]int{}
	for _, a := range r.s.attempts {
		if a.AttemptNumber > latest[a.WebhookID] {
			latest[a.WebhookID] = a.AttemptNumber
		}
	}
	out := []model.DeliveryAttempt{}
	for _, a := range r.s.attempts {
		if a.AttemptedAt.Before(cutoff) && a.AttemptNumber < latest[a.WebhookID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.Before(out[j].AttemptedAt) })
	return page(out, 0, limit), nil
}

func (r *Attempts) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.s.attempts[:0]
	var n int64
	for _, a := range r.s.attempts {
		if drop[a.ID] {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.attempts = kept
	return n, nil
}

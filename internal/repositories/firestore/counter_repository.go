// Package firestore hosts repositories backed by Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository with one document per counter,
// incremented inside a Firestore transaction. Order-number counters are keyed "order-number:YYYYMM".
type CounterRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		clock:    time.Now,
	}, nil
}

func (r *CounterRepository) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	// Firestore document ids cannot contain '/'.
	return client.Collection(countersCollection).Doc(strings.ReplaceAll(id, "/", "_")), nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	ref, err := r.doc(ctx, id)
	if err != nil {
		return 0, err
	}

	now := r.clock().UTC()
	var nextValue int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}

		increment := step
		if increment == 0 {
			increment = doc.Step
		}
		if increment <= 0 {
			increment = 1
		}
		next := doc.CurrentValue + increment
		if doc.MaxValue != nil && next > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, id, fmt.Sprintf("exceeded max value %d", *doc.MaxValue), nil)
		}

		doc.CurrentValue = next
		doc.Step = increment
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		nextValue = next
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, repositories.NewCounterError(repositories.CounterErrorUnknown, id, "increment counter", pfirestore.WrapError("counters.next", err))
	}
	return nextValue, nil
}

// Configure merges step, max value and initial value into the counter document.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	ref, err := r.doc(ctx, id)
	if err != nil {
		return err
	}

	payload := map[string]any{"updatedAt": r.clock().UTC()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return repositories.NewCounterError(repositories.CounterErrorUnknown, id, "configure counter", pfirestore.WrapError("counters.configure", err))
	}
	return nil
}

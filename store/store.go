// Package store persists materialised documents: current document state,
// pinned historical views, the operations they reference, blob reassembly
// and the query engine the API layers consume. The materialiser writes here;
// everything downstream of it reads.
package store

import (
	"fmt"
	"sync"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asaidimu/go-muninn/core/blob"
	"github.com/asaidimu/go-muninn/core/query"
	"github.com/asaidimu/go-muninn/sqlite"
)

// Options tunes store limits.
type Options struct {
	// BlobMaxPieces caps how many pieces one blob may declare. Zero applies
	// blob.MaxPieces.
	BlobMaxPieces int
}

// Store reads and writes materialised documents over one shared pool. It is
// safe for concurrent use: writers serialise on backend transactions while
// readers observe committed state only.
type Store struct {
	pool          *sqlite.Pool
	logger        *zap.Logger
	bus           *events.TypedEventBus[StoreEvent]
	blobMaxPieces int

	subMu         sync.RWMutex
	subscriptions map[string]*SubscriptionInfo
}

var _ query.Engine = (*Store)(nil)

// New wires a store over an open pool. The pool stays owned by the caller;
// opts may be nil.
func New(pool *sqlite.Pool, logger *zap.Logger, opts *Options) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bus, err := events.NewTypedEventBus[StoreEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	blobMaxPieces := blob.MaxPieces
	if opts != nil && opts.BlobMaxPieces > 0 {
		blobMaxPieces = opts.BlobMaxPieces
	}

	return &Store{
		pool:          pool,
		logger:        logger,
		bus:           bus,
		blobMaxPieces: blobMaxPieces,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// RegisterSubscription registers a callback for a store event type. It
// returns a unique ID that can be used to unregister the subscription later.
func (s *Store) RegisterSubscription(options RegisterSubscriptionOptions) string {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	unsubscribe := s.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	s.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (s *Store) UnregisterSubscription(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if info, ok := s.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(s.subscriptions, id)
	}
}

// Subscriptions returns all currently active subscriptions.
func (s *Store) Subscriptions() []SubscriptionInfo {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

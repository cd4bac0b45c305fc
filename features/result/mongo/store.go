package mongo

import (
	"context"
	"errors"
	"iter"

	clientsmongo "goa.design/ticketflow/features/result/mongo/clients/mongo"
	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements result.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ result.Store = (*Store)(nil)

// NewStore builds a Mongo-backed result store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// EnsureLocation creates the session document if it does not exist yet.
func (s *Store) EnsureLocation(ctx context.Context, id session.ID) error {
	return s.client.EnsureLocation(ctx, id)
}

// Write stores the terminal record for a session exactly once.
func (s *Store) Write(ctx context.Context, rec result.Record) error {
	return s.client.WriteRecord(ctx, rec)
}

// Read loads the terminal record for id.
func (s *Store) Read(ctx context.Context, id session.ID) (result.Record, error) {
	return s.client.ReadRecord(ctx, id)
}

// List streams summaries of every written record in ID order.
func (s *Store) List(ctx context.Context) iter.Seq2[result.Summary, error] {
	return s.client.ListRecords(ctx)
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return s.client.Name()
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Package mongo hosts the MongoDB client used by the result store.
//
// Each session owns one document keyed by its ID. EnsureLocation upserts the
// bare document; Write sets its record field exactly once.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

const (
	defaultResultsCollection = "session_results"
	defaultOpTimeout         = 5 * time.Second
	resultClientName         = "result-mongo"
)

type (
	// Client exposes Mongo-backed operations for session results.
	Client interface {
		health.Pinger

		EnsureLocation(ctx context.Context, id session.ID) error
		WriteRecord(ctx context.Context, rec result.Record) error
		ReadRecord(ctx context.Context, id session.ID) (result.Record, error)
		ListRecords(ctx context.Context) iter.Seq2[result.Summary, error]
	}

	// Options configures the Mongo result client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}
)

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultResultsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return resultClientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client not configured")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) EnsureLocation(ctx context.Context, id session.ID) error {
	if id == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": string(id)}
	update := bson.M{"$setOnInsert": bson.M{"created_at": id.Time()}}
	if _, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return result.Persistence("ensure", id, err)
	}
	return nil
}

func (c *client) WriteRecord(ctx context.Context, rec result.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc := fromRecord(rec)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// The filter only matches documents without a record. When one exists
	// the upsert collides on _id, which is how a second write is detected.
	filter := bson.M{"_id": string(rec.ID), "record": bson.M{"$exists": false}}
	update := bson.M{
		"$set":         bson.M{"record": doc},
		"$setOnInsert": bson.M{"created_at": rec.CreatedAt.UTC()},
	}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return result.ErrAlreadyWritten
		}
		return result.Persistence("write", rec.ID, err)
	}
	return nil
}

func (c *client) ReadRecord(ctx context.Context, id session.ID) (result.Record, error) {
	if id == "" {
		return result.Record{}, result.ErrNotFound
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc resultDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return result.Record{}, result.ErrNotFound
		}
		return result.Record{}, result.Persistence("read", id, err)
	}
	if doc.Record == nil {
		return result.Record{}, result.ErrNotFound
	}
	return doc.toRecord(), nil
}

// ListRecords streams terminal records in ID order. The operation timeout
// does not apply: the cursor lives as long as the caller iterates.
func (c *client) ListRecords(ctx context.Context) iter.Seq2[result.Summary, error] {
	return func(yield func(result.Summary, error) bool) {
		filter := bson.M{"record.status": bson.M{"$in": bson.A{
			string(session.StatusCompleted),
			string(session.StatusFailed),
		}}}
		opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
		cur, err := c.coll.Find(ctx, filter, opts)
		if err != nil {
			yield(result.Summary{}, result.Persistence("list", "", err))
			return
		}
		defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()
		for cur.Next(ctx) {
			var doc resultDocument
			if err := cur.Decode(&doc); err != nil {
				if !yield(result.Summary{}, result.Persistence("list", "", err)) {
					return
				}
				continue
			}
			if doc.Record == nil {
				continue
			}
			if !yield(doc.toRecord().Summarize(), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(result.Summary{}, result.Persistence("list", "", err))
		}
	}
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type (
	resultDocument struct {
		ID        string          `bson:"_id"`
		CreatedAt time.Time       `bson:"created_at"`
		Record    *recordDocument `bson:"record,omitempty"`
	}

	recordDocument struct {
		Route       string           `bson:"route,omitempty"`
		Status      string           `bson:"status"`
		Outcome     *outcomeDocument `bson:"outcome,omitempty"`
		Partial     *outcomeDocument `bson:"partial,omitempty"`
		Error       string           `bson:"error,omitempty"`
		CreatedAt   time.Time        `bson:"created_at"`
		CompletedAt time.Time        `bson:"completed_at"`
	}

	outcomeDocument struct {
		Success bool   `bson:"success"`
		Summary string `bson:"summary,omitempty"`
		// Detail holds the raw JSON detail verbatim.
		Detail string `bson:"detail,omitempty"`
	}
)

func fromRecord(rec result.Record) *recordDocument {
	return &recordDocument{
		Route:       rec.Route,
		Status:      string(rec.Status),
		Outcome:     fromOutcome(rec.Outcome),
		Partial:     fromOutcome(rec.Partial),
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt.UTC(),
		CompletedAt: rec.CompletedAt.UTC(),
	}
}

func (doc resultDocument) toRecord() result.Record {
	r := doc.Record
	return result.Record{
		ID:          session.ID(doc.ID),
		Route:       r.Route,
		Status:      session.Status(r.Status),
		Outcome:     r.Outcome.toOutcome(),
		Partial:     r.Partial.toOutcome(),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt.UTC(),
		CompletedAt: r.CompletedAt.UTC(),
	}
}

func fromOutcome(o *session.Outcome) *outcomeDocument {
	if o == nil {
		return nil
	}
	return &outcomeDocument{Success: o.Success, Summary: o.Summary, Detail: string(o.Detail)}
}

func (doc *outcomeDocument) toOutcome() *session.Outcome {
	if doc == nil {
		return nil
	}
	o := &session.Outcome{Success: doc.Success, Summary: doc.Summary}
	if doc.Detail != "" {
		o.Detail = json.RawMessage(doc.Detail)
	}
	return o
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "record.status", Value: 1}, {Key: "_id", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type (
	collection interface {
		FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
		Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
		UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
		Indexes() indexView
	}

	indexView interface {
		CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
	}

	singleResult interface {
		Decode(val any) error
	}

	cursor interface {
		Next(ctx context.Context) bool
		Decode(val any) error
		Err() error
		Close(ctx context.Context) error
	}

	mongoCollection struct {
		coll *mongodriver.Collection
	}

	mongoIndexView struct {
		view mongodriver.IndexView
	}
)

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/pkg/failure"
	"github.com/webants/webants/pkg/retry"
	"github.com/webants/webants/pkg/timeutil"
)

// MongoSink writes each Record as one document to a MongoDB
// collection.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// connectError classifies a Mongo connect/ping failure as retryable:
// the driver itself already distinguishes auth/config errors (fatal)
// from transient dial failures, but at this layer any failure to
// reach the server is worth a bounded retry before giving up.
type connectError struct {
	err error
}

func (e *connectError) Error() string             { return e.err.Error() }
func (e *connectError) Severity() failure.Severity { return failure.SeverityRecoverable }
func (e *connectError) IsRetryable() bool          { return true }

// NewMongoSink connects to uri and binds to database.collection,
// making up to 3 attempts at the initial connect/ping with exponential
// backoff to ride out a database that is still coming up.
func NewMongoSink(uri, database, collection string) (*MongoSink, error) {
	retryParam := retry.NewRetryParam(
		500*time.Millisecond,
		200*time.Millisecond,
		1,
		3,
		timeutil.NewBackoffParam(500*time.Millisecond, 2.0, 5*time.Second),
	)

	result := retry.Retry(retryParam, func() (*mongo.Client, failure.ClassifiedError) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, &connectError{err: err}
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, &connectError{err: err}
		}
		return client, nil
	})

	if result.IsFailure() {
		return nil, fmt.Errorf("sink: mongo: connect after %d attempts: %w", result.Attempts(), result.Err())
	}

	client := result.Value()
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoSink) Save(rec request.Record) error {
	doc := fieldsToMap(rec)
	doc["_source_url"] = rec.SourceURL()
	doc["_spider"] = rec.SpiderName()
	doc["_status"] = rec.Status()
	doc["_crawl_time"] = rec.CrawlTime()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("sink: mongo: insert: %w", err)
	}
	return nil
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Sink = (*MongoSink)(nil)

package logstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"bastionwaf/waf"
)

const (
	defaultChannelSize = 1000
	batchSize          = 100
	batchInterval      = 3 * time.Second
	insertTimeout      = 5 * time.Second
	insertAttempts     = 3
	retryBaseDelay     = 250 * time.Millisecond
)

// MongoStore persists match records to MongoDB. Writes are handed off
// through a buffered channel and batched; when the channel is full the
// record is dropped and counted, so a slow database never blocks the
// request path.
type MongoStore struct {
	client     *mongo.Client
	database   string
	collection string
	logChan    chan waf.WAFLog
	logger     zerolog.Logger
	dropped    atomic.Int64
}

// NewMongoStore creates a store writing to database.collection.
func NewMongoStore(client *mongo.Client, database, collection string, logger zerolog.Logger) *MongoStore {
	return &MongoStore{
		client:     client,
		database:   database,
		collection: collection,
		logChan:    make(chan waf.WAFLog, defaultChannelSize),
		logger:     logger.With().Str("component", "logstore").Logger(),
	}
}

// Store queues a record for persistence. Never blocks.
func (s *MongoStore) Store(l waf.WAFLog) error {
	select {
	case s.logChan <- l:
	default:
		s.dropped.Add(1)
		s.logger.Warn().Msg("log channel is full, dropping log entry")
	}
	return nil
}

// Dropped is the number of records shed because the channel was full or
// persistence kept failing.
func (s *MongoStore) Dropped() int64 { return s.dropped.Load() }

// Run consumes the channel and writes batches until ctx is cancelled,
// then flushes what is left.
func (s *MongoStore) Run(ctx context.Context) error {
	coll := s.client.Database(s.database).Collection(s.collection)

	batch := make([]interface{}, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.insertBatch(coll, batch)
		batch = batch[:0]
	}

	for {
		select {
		case l := <-s.logChan:
			batch = append(batch, l)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			// Low-traffic flush so records do not sit in the batch.
			flush()
		case <-ctx.Done():
			for {
				select {
				case l := <-s.logChan:
					batch = append(batch, l)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		}
	}
}

// insertBatch writes one batch, retrying transient failures with backoff.
// After the last attempt the batch is dropped and counted: losing log
// records is preferable to backing up the inspection path.
func (s *MongoStore) insertBatch(coll *mongo.Collection, batch []interface{}) {
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseDelay << (attempt - 1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		_, err = coll.InsertMany(ctx, batch)
		cancel()
		if err == nil {
			return
		}
	}

	s.dropped.Add(int64(len(batch)))
	s.logger.Error().Err(err).Int("batchSize", len(batch)).Msg("failed to save firewall logs to MongoDB")
}

// FindLogs serves a paginated log query straight from the collection.
func (s *MongoStore) FindLogs(ctx context.Context, filter waf.LogFilter, page, pageSize int) (*waf.LogPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	coll := s.client.Database(s.database).Collection(s.collection)
	query := buildLogQuery(filter)

	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	results := make([]waf.WAFLog, 0, pageSize)
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	return &waf.LogPage{
		Results:     results,
		TotalCount:  total,
		PageSize:    pageSize,
		CurrentPage: page,
		TotalPages:  waf.TotalPages(total, pageSize),
	}, nil
}

func buildLogQuery(f waf.LogFilter) bson.D {
	query := bson.D{}

	if f.RuleID > 0 {
		query = append(query, bson.E{Key: "ruleId", Value: f.RuleID})
	}
	if f.RequestID != "" {
		query = append(query, bson.E{Key: "requestId", Value: f.RequestID})
	}
	if f.Domain != "" {
		query = append(query, bson.E{Key: "domain", Value: f.Domain})
	}
	if f.ClientIPAddress != "" {
		query = append(query, bson.E{Key: "clientIpAddress", Value: f.ClientIPAddress})
	}
	if f.ServerIPAddress != "" {
		query = append(query, bson.E{Key: "serverIpAddress", Value: f.ServerIPAddress})
	}
	if f.ClientPort > 0 {
		query = append(query, bson.E{Key: "srcPort", Value: f.ClientPort})
	}
	if f.ServerPort > 0 {
		query = append(query, bson.E{Key: "dstPort", Value: f.ServerPort})
	}

	timeRange := bson.D{}
	if !f.StartTime.IsZero() {
		timeRange = append(timeRange, bson.E{Key: "$gte", Value: f.StartTime})
	}
	if !f.EndTime.IsZero() {
		timeRange = append(timeRange, bson.E{Key: "$lte", Value: f.EndTime})
	}
	if len(timeRange) > 0 {
		query = append(query, bson.E{Key: "createdAt", Value: timeRange})
	}

	return query
}

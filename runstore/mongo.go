package runstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultCollection = "qym_runs"
	defaultOpTimeout   = 5 * time.Second
)

// MongoOptions configures a MongoStore.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore implements Store against a MongoDB collection, grounded on the
// teacher's runtime/agent/run Mongo-backed session store: one document per
// run, upserted by run_id, with a unique index enforcing that invariant.
type MongoStore struct {
	coll    collection
	timeout time.Duration
}

// NewMongoStore opens (and indexes, if needed) the backing collection and
// returns a MongoStore.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("runstore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("runstore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	wrapper := mongoCollection{coll: mcoll}

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(idxCtx, wrapper); err != nil {
		return nil, err
	}
	return &MongoStore{coll: wrapper, timeout: timeout}, nil
}

// Upsert writes record, keyed on RunID, creating the document if absent.
func (s *MongoStore) Upsert(ctx context.Context, record Record) error {
	if record.RunID == "" {
		return errors.New("runstore: run id is required")
	}
	now := time.Now().UTC()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	doc := fromRecord(record)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"run_id": record.RunID}
	update := bson.M{
		"$set": doc,
		"$setOnInsert": bson.M{
			"started_at": doc.StartedAt,
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Load retrieves the record for runID, or ErrNotFound.
func (s *MongoStore) Load(ctx context.Context, runID string) (Record, error) {
	if runID == "" {
		return Record{}, errors.New("runstore: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc runDocument
	if err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return doc.toRecord(), nil
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// runDocument is the BSON document shape persisted for one run.
type runDocument struct {
	RunID       string            `bson:"run_id"`
	RunName     string            `bson:"run_name,omitempty"`
	DatasetName string            `bson:"dataset_name,omitempty"`
	Model       string            `bson:"model,omitempty"`
	RunConfigID string            `bson:"run_config_id,omitempty"`
	Status      Status            `bson:"status"`
	StartedAt   time.Time         `bson:"started_at"`
	EndedAt     time.Time         `bson:"ended_at,omitempty"`
	Labels      map[string]string `bson:"labels,omitempty"`
	Metadata    map[string]any    `bson:"metadata,omitempty"`
}

func fromRecord(r Record) runDocument {
	return runDocument{
		RunID:       r.RunID,
		RunName:     r.RunName,
		DatasetName: r.DatasetName,
		Model:       r.Model,
		RunConfigID: r.RunConfigID,
		Status:      r.Status,
		StartedAt:   r.StartedAt.UTC(),
		EndedAt:     r.EndedAt.UTC(),
		Labels:      r.Labels,
		Metadata:    r.Metadata,
	}
}

func (d runDocument) toRecord() Record {
	return Record{
		RunID:       d.RunID,
		RunName:     d.RunName,
		DatasetName: d.DatasetName,
		Model:       d.Model,
		RunConfigID: d.RunConfigID,
		Status:      d.Status,
		StartedAt:   d.StartedAt,
		EndedAt:     d.EndedAt,
		Labels:      d.Labels,
		Metadata:    d.Metadata,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// collection is the narrow slice of *mongo.Collection MongoStore depends
// on, letting tests substitute a fake without standing up a real server.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error { return r.res.Decode(val) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

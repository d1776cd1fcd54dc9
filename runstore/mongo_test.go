package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// fakeCollection substitutes for a real Mongo collection in unit tests.
type fakeCollection struct {
	docs map[string]runDocument

	updateErr error
	findErr   error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]runDocument)}
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	runID := filterRunID(filter)
	if f.findErr != nil {
		return fakeSingleResult{err: f.findErr}
	}
	doc, ok := f.docs[runID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	runID := filterRunID(filter)
	set, ok := update.(bson.M)["$set"].(runDocument)
	if !ok {
		return nil, errors.New("fakeCollection: unexpected update shape")
	}
	f.docs[runID] = set
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) Indexes() indexView { return fakeIndexView{} }

func filterRunID(filter any) string {
	m, ok := filter.(bson.M)
	if !ok {
		return ""
	}
	id, _ := m["run_id"].(string)
	return id
}

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "run_id_1", nil
}

type fakeSingleResult struct {
	doc runDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	out, ok := val.(*runDocument)
	if !ok {
		return errors.New("fakeSingleResult: unexpected decode target")
	}
	*out = r.doc
	return nil
}

func TestMongoStoreUpsertThenLoadRoundTrips(t *testing.T) {
	t.Parallel()
	store := &MongoStore{coll: newFakeCollection(), timeout: time.Second}

	rec := Record{
		RunID:       "run-1",
		RunName:     "my-task-gpt-4o-260730-1405",
		DatasetName: "qa-eval",
		Model:       "openai/gpt-4o",
		Status:      StatusRunning,
	}
	require.NoError(t, store.Upsert(context.Background(), rec))

	loaded, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, loaded.RunID)
	assert.Equal(t, rec.DatasetName, loaded.DatasetName)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.False(t, loaded.StartedAt.IsZero())
}

func TestMongoStoreLoadMissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	store := &MongoStore{coll: newFakeCollection(), timeout: time.Second}

	_, err := store.Load(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStoreUpsertRejectsEmptyRunID(t *testing.T) {
	t.Parallel()
	store := &MongoStore{coll: newFakeCollection(), timeout: time.Second}
	err := store.Upsert(context.Background(), Record{})
	require.Error(t, err)
}

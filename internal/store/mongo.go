package store

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/jsonutil"
	"asisaid.cn/coda/internal/common/logger"
)

// MongoCollection holds one document per tracked file.
const MongoCollection = "files"

// badValueCode is the server's error code for a malformed query.
const badValueCode = 2

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI         string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// MongoStore implements Store on a MongoDB collection. Queries are handed to
// the server as filters; the server evaluates them.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var (
	byInsertion = bson.D{{Key: "_id", Value: 1}}
	withoutID   = bson.D{{Key: "_id", Value: 0}}
)

// NewMongoStore connects to cfg.URI and checks the server answers.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	const op = "store.NewMongoStore"

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.E(op, errors.ErrConnection, err, cfg.URI)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.E(op, errors.ErrConnection, err, cfg.URI)
	}

	logger.L().Debug("MongoDB connected",
		zap.String("database", cfg.Database),
		zap.String("collection", MongoCollection))

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(MongoCollection),
	}, nil
}

// Find returns every matching document in _id order.
func (s *MongoStore) Find(ctx context.Context, q Query) ([]Document, error) {
	const op = "MongoStore.Find"

	filter, err := bsonFilter(q)
	if err != nil {
		return nil, err
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(byInsertion).SetProjection(withoutID))
	if err != nil {
		return nil, mongoError(op, err)
	}
	defer cur.Close(ctx)

	var out []Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, errors.Wrap(op, err)
		}
		out = append(out, fromBSONDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, mongoError(op, err)
	}
	return out, nil
}

// FindOne returns the first matching document in _id order.
func (s *MongoStore) FindOne(ctx context.Context, q Query) (Document, error) {
	const op = "MongoStore.FindOne"

	filter, err := bsonFilter(q)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = s.coll.FindOne(ctx, filter, options.FindOne().SetSort(byInsertion).SetProjection(withoutID)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, mongoError(op, err)
	}
	return fromBSONDocument(raw), nil
}

// Insert adds a document.
func (s *MongoStore) Insert(ctx context.Context, doc Document) error {
	body, err := bsonDocument(doc)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, body); err != nil {
		return mongoError("MongoStore.Insert", err)
	}
	return nil
}

// Update replaces the first matching document. The replacement keeps the
// original _id, so the document keeps its position.
func (s *MongoStore) Update(ctx context.Context, q Query, doc Document) (int64, error) {
	const op = "MongoStore.Update"

	filter, err := bsonFilter(q)
	if err != nil {
		return 0, err
	}
	body, err := bsonDocument(doc)
	if err != nil {
		return 0, err
	}
	res, err := s.coll.ReplaceOne(ctx, filter, body)
	if err != nil {
		return 0, mongoError(op, err)
	}
	return res.MatchedCount, nil
}

// DeleteMany removes every matching document.
func (s *MongoStore) DeleteMany(ctx context.Context, q Query) (int64, error) {
	filter, err := bsonFilter(q)
	if err != nil {
		return 0, err
	}
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, mongoError("MongoStore.DeleteMany", err)
	}
	return res.DeletedCount, nil
}

// Ping checks the primary answers.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.E("MongoStore.Ping", errors.ErrConnection, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// mongoError classifies a driver error. Context errors pass through, a
// malformed query is ErrInvalidQuery, other server replies keep their own
// error and anything else means the server could not be reached.
func mongoError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(op, err)
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		if serverErr.HasErrorCode(badValueCode) {
			return errors.E(op, errors.ErrInvalidQuery, err)
		}
		return errors.Wrap(op, err)
	}
	return errors.E(op, errors.ErrConnection, err)
}

func bsonFilter(q Query) (bson.M, error) {
	if len(q) == 0 {
		return bson.M{}, nil
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, errors.E("store.bsonFilter", errors.ErrInvalidQuery, err)
	}
	obj, err := jsonutil.DecodeObject(raw)
	if err != nil {
		return nil, errors.E("store.bsonFilter", errors.ErrInvalidQuery, err)
	}
	return toBSON(obj).(bson.M), nil
}

func bsonDocument(doc Document) (bson.M, error) {
	normalized, err := normalizeDocument(doc)
	if err != nil {
		return nil, err
	}
	return toBSON(map[string]any(normalized)).(bson.M), nil
}

// toBSON converts a JSON-shaped value into the types the driver encodes
// natively. Integers past the int64 range become Decimal128.
func toBSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(bson.M, len(t))
		for k, el := range t {
			out[k] = toBSON(el)
		}
		return out
	case []any:
		out := make(bson.A, len(t))
		for i, el := range t {
			out[i] = toBSON(el)
		}
		return out
	case json.Number:
		if d, err := bson.ParseDecimal128(string(t)); err == nil {
			return d
		}
		return string(t)
	}
	return v
}

func fromBSONDocument(raw bson.M) Document {
	doc, _ := jsonutil.Normalize(fromBSON(raw)).(map[string]any)
	return doc
}

// fromBSON turns decoded BSON back into JSON shapes: plain maps and slices,
// int64 integers and json.Number for Decimal128.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = fromBSON(el)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = fromBSON(el)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = fromBSON(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = fromBSON(el)
		}
		return out
	case int32:
		return int64(t)
	case bson.Decimal128:
		return json.Number(t.String())
	}
	return v
}

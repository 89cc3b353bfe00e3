package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"asisaid.cn/coda/internal/common/errors"
)

func TestBSONFilter(t *testing.T) {
	filter, err := bsonFilter(Query{
		"id":   int64(9007199254740993),
		"big":  json.Number("123456789012345678901234567890"),
		"path": map[string]any{"$regex": "^/data", "$options": "i"},
		"$or":  []any{Query{"kind": "raw"}, Query{"size": map[string]any{"$gt": 1.5}}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), filter["id"])
	assert.IsType(t, bson.Decimal128{}, filter["big"])
	assert.Equal(t, bson.M{"$regex": "^/data", "$options": "i"}, filter["path"])
	assert.Equal(t, bson.A{
		bson.M{"kind": "raw"},
		bson.M{"size": bson.M{"$gt": 1.5}},
	}, filter["$or"])

	empty, err := bsonFilter(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = bsonFilter(Query{"bad": make(chan int)})
	assert.True(t, errors.Is(err, errors.ErrInvalidQuery))
}

func TestBSONDocument_RejectsUnencodable(t *testing.T) {
	_, err := bsonDocument(Document{"path": "/a", "bad": func() {}})
	assert.True(t, errors.Is(err, errors.ErrInvalidMetadata))
}

func TestFromBSONDocument(t *testing.T) {
	big, err := bson.ParseDecimal128("123456789012345678901234567890")
	require.NoError(t, err)

	doc := fromBSONDocument(bson.M{
		"path":  "/a",
		"n":     int32(7),
		"id":    int64(9007199254740993),
		"ratio": 0.25,
		"big":   big,
		"tags":  bson.A{"x", int32(1)},
		"meta":  bson.D{{Key: "owner", Value: "ana"}, {Key: "rev", Value: int32(3)}},
	})

	assert.Equal(t, Document{
		"path":  "/a",
		"n":     int64(7),
		"id":    int64(9007199254740993),
		"ratio": 0.25,
		"big":   json.Number("123456789012345678901234567890"),
		"tags":  []any{"x", int64(1)},
		"meta":  map[string]any{"owner": "ana", "rev": int64(3)},
	}, doc)
}

func TestNewMongoStore_ConnectionError(t *testing.T) {
	_, err := NewMongoStore(context.Background(), MongoConfig{
		URI:         "mongodb://127.0.0.1:1",
		Database:    "coda",
		DialTimeout: 200 * time.Millisecond,
	})
	assert.True(t, errors.IsConnection(err))
}

func TestMongoError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"bad value", mongo.CommandError{Code: badValueCode, Message: "unknown top level operator: $bogus"}, errors.ErrInvalidQuery},
		{"network", errors.New("connection reset"), errors.ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(mongoError("op", tt.err), tt.kind))
		})
	}

	err := mongoError("op", context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.IsConnection(err))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/contextflow/types"
)

// MongoConfig configures the MongoDB-backed store.
type MongoConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
}

// MongoStore is a document-store ArchiveStore backend. One collection holds
// index documents keyed by session, another holds node archives keyed by
// "<sessionKey>/<nodeID>".
type MongoStore struct {
	client   *mongo.Client
	indexes  *mongo.Collection
	archives *mongo.Collection
	logger   *zap.Logger
}

type mongoIndexDoc struct {
	ID  string               `bson:"_id"`
	Doc types.IndexDocument  `bson:"doc"`
}

type mongoArchiveDoc struct {
	ID      string               `bson:"_id"`
	Payload types.ArchivePayload `bson:"payload"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = "contextflow"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		client:   client,
		indexes:  db.Collection("indexes"),
		archives: db.Collection("archives"),
		logger:   logger.With(zap.String("component", "store_mongo")),
	}, nil
}

func mongoArchiveID(sessionKey, nodeID string) string {
	return sessionKey + "/" + nodeID
}

func (s *MongoStore) LoadIndex(ctx context.Context, sessionKey string) types.Result[*types.IndexDocument] {
	var rec mongoIndexDoc
	err := s.indexes.FindOne(ctx, bson.M{"_id": sessionKey}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Err[*types.IndexDocument](fmt.Errorf("%w: session %s", ErrNotFound, sessionKey))
	}
	if err != nil {
		return types.Err[*types.IndexDocument](fmt.Errorf("mongo find index: %w", err))
	}
	if err := validateIndex(&rec.Doc); err != nil {
		return types.Err[*types.IndexDocument](err)
	}
	return types.Ok(&rec.Doc)
}

// SaveIndex 用 ReplaceOne+upsert 覆盖写，单文档替换对读者原子。
func (s *MongoStore) SaveIndex(ctx context.Context, doc *types.IndexDocument) error {
	if err := normalizeIndex(doc); err != nil {
		return err
	}
	_, err := s.indexes.ReplaceOne(ctx,
		bson.M{"_id": doc.SessionKey},
		mongoIndexDoc{ID: doc.SessionKey, Doc: *doc},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo replace index: %w", err)
	}
	return nil
}

func (s *MongoStore) WriteArchive(ctx context.Context, sessionKey, nodeID string, payload *types.ArchivePayload) (string, error) {
	if sessionKey == "" || nodeID == "" || payload == nil {
		return "", ErrInvalidInput
	}
	id := mongoArchiveID(sessionKey, nodeID)
	_, err := s.archives.ReplaceOne(ctx,
		bson.M{"_id": id},
		mongoArchiveDoc{ID: id, Payload: *payload},
		options.Replace().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("mongo replace archive: %w", err)
	}
	return id, nil
}

func (s *MongoStore) ReadArchive(ctx context.Context, path string) types.Result[*types.ArchivePayload] {
	var rec mongoArchiveDoc
	err := s.archives.FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.Err[*types.ArchivePayload](fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	if err != nil {
		return types.Err[*types.ArchivePayload](fmt.Errorf("mongo find archive: %w", err))
	}
	return types.Ok(&rec.Payload)
}

func (s *MongoStore) CleanupArchives(ctx context.Context, sessionKey string, keep map[string]bool) (int, error) {
	prefix := sessionKey + "/"
	cursor, err := s.archives.Find(ctx,
		bson.M{"_id": bson.M{"$regex": "^" + prefix}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("mongo list archives: %w", err)
	}
	defer cursor.Close(ctx)

	var orphans []string
	for cursor.Next(ctx) {
		var rec struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&rec); err != nil {
			continue
		}
		nodeID := strings.TrimPrefix(rec.ID, prefix)
		if !keep[nodeID] {
			orphans = append(orphans, rec.ID)
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, fmt.Errorf("mongo iterate archives: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	res, err := s.archives.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": orphans}})
	if err != nil {
		return 0, fmt.Errorf("mongo delete archives: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ ArchiveStore = (*MongoStore)(nil)

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
)

// DBStore is the MongoDB backed client registry.
type DBStore struct {
	client           *mongo.Client
	clients          *mongo.Collection
	operationTimeout time.Duration
}

func NewDatabaseStore(client *mongo.Client, clients *mongo.Collection, operationTimeout time.Duration) *DBStore {
	return &DBStore{client: client, clients: clients, operationTimeout: operationTimeout}
}

func wrapError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) Save(ctx context.Context, record *ClientRecord) error {
	if record.ClientID == "" {
		return ClientIdEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: record.ClientID}}
	result, err := ds.clients.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapError(err)
	}

	logger.DebugF("Client record saved: client_id=%s, matched=%d, modified=%d, upserted=%v",
		record.ClientID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) Delete(ctx context.Context, clientID, connID string) error {
	if clientID == "" {
		return ClientIdEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: clientID}, {Key: "conn_id", Value: connID}}
	result, err := ds.clients.DeleteOne(ctx, filter)
	if err != nil {
		return wrapError(err)
	}
	logger.DebugF("Client record deleted: client_id=%s, deleted=%d", clientID, result.DeletedCount)
	return nil
}

func (ds *DBStore) Get(ctx context.Context, clientID string) (*ClientRecord, error) {
	if clientID == "" {
		return nil, ClientIdEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	var record ClientRecord
	startTime := time.Now()
	err := ds.clients.FindOne(ctx, bson.D{{Key: "client_id", Value: clientID}}).Decode(&record)
	logger.TraceF("client record query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, wrapError(err)
	}
	return &record, nil
}

func (ds *DBStore) List(ctx context.Context) ([]*ClientRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "connected_at", Value: 1}, {Key: "client_id", Value: 1}})
	cursor, err := ds.clients.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	records := []*ClientRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapError(err)
	}
	return records, nil
}

// Close removes nothing: records of a crashed bridge are overwritten on reconnect.
func (ds *DBStore) Close(ctx context.Context) error {
	return ds.client.Disconnect(ctx)
}

// Package database keeps the registry of connected clients. Records are
// informational: they are never used to resume a session.
package database

import (
	"context"
	"errors"
	"time"
)

const ClientCollectionName = "clients"

var (
	ClientIdEmptyError = errors.New("client_id is empty")
	ErrNotFound        = errors.New("client record does not exist")
)

// ClientRecord describes one live MQTT connection.
type ClientRecord struct {
	ClientID    string    `bson:"client_id" json:"client_id"`
	ConnID      string    `bson:"conn_id" json:"conn_id"`
	Protocol    string    `bson:"protocol" json:"protocol"`
	RemoteAddr  string    `bson:"remote_addr" json:"remote_addr"`
	ConnectedAt time.Time `bson:"connected_at" json:"connected_at"`
}

// Store persists ClientRecords keyed by client id. A newer connection with the
// same client id replaces the record; Delete only removes the record when it
// still belongs to connID.
type Store interface {
	Save(ctx context.Context, record *ClientRecord) error
	Delete(ctx context.Context, clientID, connID string) error
	List(ctx context.Context) ([]*ClientRecord, error)
	Close(ctx context.Context) error
}

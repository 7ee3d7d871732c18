package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/utils"
)

// URI builds the connection string. Credentials are escaped.
func URI(cfg config.MongoConfig) string {
	if cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", cfg.Host, cfg.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
	)
}

func clientOptions(cfg config.MongoConfig, appName string) (*options.ClientOptions, error) {
	connectTimeout, err := utils.ParseStringTime(cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect_timeout: %w", err)
	}

	opts := options.Client().ApplyURI(URI(cfg)).SetAppName(appName)
	opts.SetMinPoolSize(cfg.MinPoolSize)
	opts.SetMaxPoolSize(cfg.MaxPoolSize)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetServerSelectionTimeout(connectTimeout)
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.TraceF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.TraceF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return opts, nil
}

// ConnectDatabase connects, pings and makes sure the client_id index exists.
func ConnectDatabase(ctx context.Context, cfg config.MongoConfig, appName string) (*DBStore, error) {
	logger.DebugF("Connecting to database %s:%d...", cfg.Host, cfg.Port)
	opts, err := clientOptions(cfg, appName)
	if err != nil {
		return nil, fmt.Errorf("error occurred while connecting to database: %w", err)
	}
	operationTimeout, err := utils.ParseStringTime(cfg.OperationTimeout)
	if err != nil {
		return nil, fmt.Errorf("operation_timeout: %w", err)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error occurred while connecting to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	if err = client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error occurred while pinging database: %w", err)
	}

	clients := client.Database(cfg.Database).Collection(ClientCollectionName)
	_, err = clients.Indexes().CreateOne(pingCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("clients_client_id_unique"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error occurred while creating database indexes: %w", err)
	}

	logger.InfoF("Client registry connected to database %s", cfg.Database)
	return NewDatabaseStore(client, clients, operationTimeout), nil
}

// NewStore builds the registry selected by cfg.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Registry.Backend {
	case config.BackendMongo:
		return ConnectDatabase(ctx, cfg.Registry.Mongo, cfg.AppName)
	default:
		return NewMemoryStore(), nil
	}
}

// DBCloseCallback disconnects the registry on shutdown.
type DBCloseCallback struct {
	store Store
}

func NewDBCloseCallback(store Store) *DBCloseCallback {
	return &DBCloseCallback{store: store}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing client registry")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return dc.store.Close(ctx)
}

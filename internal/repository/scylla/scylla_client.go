package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"hongson-portal/internal/config"
	"hongson-portal/internal/util"
)

const appColumns = `id, name, url, icon_url, zone, color, is_enabled, sort_order, created_at, updated_at`

// appCollection is the single partition holding every app link, so order
// batches can be conditional.
const appCollection = "apps"

const createAppLinksTable = `
    CREATE TABLE IF NOT EXISTS app_links (
        collection text,
        id text,
        name text,
        url text,
        icon_url text,
        zone text,
        color text,
        is_enabled boolean,
        sort_order int,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((collection), id)
    )`

// PreparedStatements holds the statements used by the app repository.
type PreparedStatements struct {
	InsertApp   string
	GetApp      string
	ListApps    string
	DeleteApp   string
	UpdateOrder string
	TouchOrder  string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.UseTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.ensureSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	client.prepareStatements()

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Session.Query(createAppLinksTable).WithContext(ctx).Exec(); err != nil {
		return err
	}
	util.Debug("app_links table ready")
	return nil
}

// prepareStatements builds the statement text once. gocql prepares and caches
// each statement on first execution.
func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return
	}

	s.Prepared = newPreparedStatements()
	s.isPrepared = true
}

func newPreparedStatements() *PreparedStatements {
	return &PreparedStatements{
		InsertApp: `
        INSERT INTO app_links (collection, ` + appColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		GetApp: `
        SELECT ` + appColumns + ` FROM app_links WHERE collection = ? AND id = ?`,
		ListApps: `
        SELECT ` + appColumns + ` FROM app_links WHERE collection = ?`,
		DeleteApp: `
        DELETE FROM app_links WHERE collection = ? AND id = ?`,
		UpdateOrder: `
        UPDATE app_links SET sort_order = ? WHERE collection = ? AND id = ? IF EXISTS`,
		TouchOrder: `
        UPDATE app_links SET sort_order = ?, updated_at = ? WHERE collection = ? AND id = ? IF EXISTS`,
	}
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

// ExecuteBatchCAS runs a conditional batch and reports whether every
// condition held.
func (s *ScyllaClient) ExecuteBatchCAS(batch *gocql.Batch) (bool, error) {
	applied, iter, err := s.Session.MapExecuteBatchCAS(batch, make(map[string]interface{}))
	if iter != nil {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}
	return applied, err
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

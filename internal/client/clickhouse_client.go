package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"hongson-portal/internal/config"
	"hongson-portal/internal/models"
	"hongson-portal/internal/util"
)

const createLaunchesTable = `
    CREATE TABLE IF NOT EXISTS app_launches (
        app_id      String,
        zone        LowCardinality(String),
        launched_at DateTime64(3),
        user_agent  String
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(launched_at)
    ORDER BY (app_id, launched_at)`

// ClickHouseClient records app launches for the admin statistics view.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      30 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if strings.HasPrefix(chConfig.URL, "https://") {
		opts.TLS = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createLaunchesTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create app_launches table: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

func (c *ClickHouseClient) RecordLaunch(ctx context.Context, appID string, zone models.Zone, at time.Time, userAgent string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	err := c.conn.Exec(ctx,
		`INSERT INTO app_launches (app_id, zone, launched_at, user_agent) VALUES (?, ?, ?, ?)`,
		appID, string(zone), at, userAgent)
	if err != nil {
		return fmt.Errorf("failed to record launch: %w", err)
	}
	return nil
}

// LaunchCounts aggregates launches per app since the given time, most launched first.
func (c *ClickHouseClient) LaunchCounts(ctx context.Context, since time.Time) ([]models.LaunchCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.conn.Query(ctx, `
        SELECT app_id, count() AS launches
        FROM app_launches
        WHERE launched_at >= ?
        GROUP BY app_id
        ORDER BY launches DESC, app_id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query launch counts: %w", err)
	}
	defer rows.Close()

	var counts []models.LaunchCount
	for rows.Next() {
		var lc models.LaunchCount
		if err := rows.Scan(&lc.AppID, &lc.Launches); err != nil {
			return nil, fmt.Errorf("failed to scan launch count: %w", err)
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		util.Info("ClickHouse connection closed")
	}
	return nil
}

// extractHostPort strips the scheme and applies the native protocol port
// when none is given.
func extractHostPort(url string) string {
	cleanURL := strings.TrimPrefix(url, "http://")
	cleanURL = strings.TrimPrefix(cleanURL, "https://")
	cleanURL = strings.TrimPrefix(cleanURL, "clickhouse://")
	cleanURL = strings.TrimSuffix(cleanURL, "/")
	if !strings.Contains(cleanURL, ":") {
		if strings.HasPrefix(url, "https://") {
			return cleanURL + ":9440"
		}
		return cleanURL + ":9000"
	}
	return cleanURL
}

func extractHostname(url string) string {
	hostPort := extractHostPort(url)
	return strings.Split(hostPort, ":")[0]
}

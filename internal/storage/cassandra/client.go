package cassandra

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gocql/gocql"

	"github.com/roundkeeper/internal/config"
	"github.com/roundkeeper/pkg/logger"
)

// maxRetries bounds the retries of transient query failures
const maxRetries = 3

// Client wraps a gocql.Session and provides connection management
type Client struct {
	session *gocql.Session
	config  config.CassandraConfig
	logger  *logger.Logger
}

// NewClient creates a new Cassandra client and establishes a connection
func NewClient(cfg config.CassandraConfig, log *logger.Logger) (*Client, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)

	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.RetryPolicy = RetryPolicy(maxRetries)

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	log.Info("Connected to Cassandra", logger.F("hosts", strings.Join(cfg.Hosts, ",")), logger.F("keyspace", cfg.Keyspace))

	client := &Client{
		session: session,
		config:  cfg,
		logger:  log,
	}

	if err := client.initializeSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return client, nil
}

// Session returns the underlying gocql.Session
func (c *Client) Session() *gocql.Session {
	return c.session
}

// Keyspace returns the configured keyspace
func (c *Client) Keyspace() string {
	return c.config.Keyspace
}

// Close closes the Cassandra session
func (c *Client) Close() {
	if c.session != nil {
		c.session.Close()
		c.logger.Info("Cassandra session closed")
	}
}

// schema lists the tables of the keyspace. Each is shaped after the query
// that reads it: guesses are partitioned by round, with side tables for
// lookups by guess id and by user.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS %s.games (
		id text PRIMARY KEY,
		url text,
		map_id text,
		map_name text,
		state text,
		winner_id text,
		created_at timestamp,
		finished_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS %s.rounds (
		id text PRIMARY KEY,
		game_id text,
		idx int,
		lat double,
		lng double,
		pano_id text,
		heading double,
		pitch double,
		zoom double,
		streak_code text,
		invert_scoring boolean,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS %s.rounds_by_game (
		game_id text,
		idx int,
		round_id text,
		PRIMARY KEY (game_id, idx)
	) WITH CLUSTERING ORDER BY (idx DESC)`,
	`CREATE TABLE IF NOT EXISTS %s.last_round (
		key text PRIMARY KEY,
		round_id text,
		lat double,
		lng double
	)`,
	`CREATE TABLE IF NOT EXISTS %s.users (
		id text PRIMARY KEY,
		username text,
		color text,
		flag text,
		avatar text,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS %s.guesses (
		round_id text,
		user_id text,
		id text,
		lat double,
		lng double,
		streak_code text,
		distance double,
		score int,
		streak int,
		last_streak int,
		is_random_plonk boolean,
		demoted boolean,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY (round_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %s.guess_ids (
		id text PRIMARY KEY,
		round_id text,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS %s.user_guesses (
		user_id text,
		guess_id text,
		write_seq bigint,
		PRIMARY KEY (user_id, guess_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %s.streaks (
		user_id text PRIMARY KEY,
		count int,
		last_round_id text
	)`,
}

// initializeSchema creates the keyspace and tables if they don't exist
func (c *Client) initializeSchema() error {
	keyspace := c.config.Keyspace

	createKeyspaceQuery := fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {
			'class': 'SimpleStrategy',
			'replication_factor': 1
		}`, keyspace)

	if err := c.session.Query(createKeyspaceQuery).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	for _, stmt := range schema {
		if err := c.session.Query(fmt.Sprintf(stmt, keyspace)).Exec(); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	c.logger.Info("Cassandra schema initialized", logger.F("keyspace", keyspace), logger.F("tables", strconv.Itoa(len(schema))))
	return nil
}

// parseConsistency parses a consistency level string
func parseConsistency(consistencyStr string) gocql.Consistency {
	switch strings.ToUpper(consistencyStr) {
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.Quorum
	}
}

// RetryPolicy provides simple retry logic for transient errors
func RetryPolicy(maxRetries int) gocql.RetryPolicy {
	return &simpleRetryPolicy{maxRetries: maxRetries}
}

type simpleRetryPolicy struct {
	maxRetries int
}

func (p *simpleRetryPolicy) Attempt(q gocql.RetryableQuery) bool {
	return q.Attempts() <= p.maxRetries
}

func (p *simpleRetryPolicy) GetRetryType(err error) gocql.RetryType {
	if errors.Is(err, gocql.ErrTimeoutNoResponse) {
		return gocql.Retry
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "unavailable") {
			return gocql.Retry
		}
	}
	return gocql.Rethrow
}

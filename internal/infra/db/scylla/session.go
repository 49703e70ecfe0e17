package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"rentchat/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseCluster := gocql.NewCluster(cfg.ScyllaHosts...)
	baseCluster.Timeout = cfg.ScyllaTimeout
	baseCluster.Consistency = cfg.ScyllaConsistency
	setAuth(baseCluster, cfg)

	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(context.Background(), baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Keyspace = cfg.ScyllaKeyspace
	cluster.Consistency = cfg.ScyllaConsistency
	cluster.SerialConsistency = gocql.LocalSerial
	setAuth(cluster, cfg)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(context.Background(), session, cfg.ScyllaKeyspace); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, cfg.ReplicationFactor,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

// Conversations are claimed through conversation_keys with a lightweight
// transaction; conversations_by_user and messages_by_id are lookup tables
// maintained alongside the primary rows.
var schema = []struct {
	name string
	cql  string
}{
	{"conversations", `
CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	listing_id text,
	participants list<text>,
	participant_key text,
	active boolean,
	created_at timestamp,
	last_message_id text,
	last_message_sender_id text,
	last_message_preview text,
	last_message_at timestamp
);`},
	{"conversation_keys", `
CREATE TABLE IF NOT EXISTS %s.conversation_keys (
	listing_id text,
	participant_key text,
	conversation_id text,
	PRIMARY KEY ((listing_id, participant_key))
);`},
	{"conversations_by_user", `
CREATE TABLE IF NOT EXISTS %s.conversations_by_user (
	user_id text,
	conversation_id text,
	listing_id text,
	PRIMARY KEY (user_id, conversation_id)
);`},
	{"messages", `
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	created_at timestamp,
	message_id text,
	listing_id text,
	sender_id text,
	recipient_id text,
	content text,
	kind text,
	client_msg_id text,
	is_read boolean,
	read_at timestamp,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC);`},
	{"messages_by_id", `
CREATE TABLE IF NOT EXISTS %s.messages_by_id (
	message_id text PRIMARY KEY,
	conversation_id text,
	created_at timestamp
);`},
	{"send_ledger", `
CREATE TABLE IF NOT EXISTS %s.send_ledger (
	key text PRIMARY KEY,
	message_id text
) WITH default_time_to_live = 604800;`},
	{"chat_outbox", `
CREATE TABLE IF NOT EXISTS %s.chat_outbox (
	bucket int,
	id text,
	name text,
	payload blob,
	occurred_at timestamp,
	aggregate text,
	headers map<text, text>,
	state text,
	attempts int,
	next_attempt_at timestamp,
	claimed_by text,
	claimed_at timestamp,
	last_error text,
	PRIMARY KEY (bucket, id)
);`},
}

func ensureTables(ctx context.Context, session *gocql.Session, keyspace string) error {
	for _, table := range schema {
		if err := session.Query(fmt.Sprintf(table.cql, keyspace)).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
	}
	return nil
}

func setAuth(cluster *gocql.ClusterConfig, cfg config.Config) {
	if cfg.ScyllaUsername == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.ScyllaUsername,
		Password: cfg.ScyllaPassword,
	}
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Timeout = cfg.ScyllaTimeout
}

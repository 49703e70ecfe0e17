package main

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"rentchat/internal/infra/messaging"
	"rentchat/internal/infra/obs"
	"rentchat/internal/infra/realtime/chatclient"
)

// connection carries the flags every command shares.
type connection struct {
	GRPCAddr string
	WSURL    string
	Token    string
	UserID   string
	Timeout  time.Duration
	Verbose  bool
}

func (c *connection) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.GRPCAddr, "grpc", envOr("RENTCHAT_GRPC", "localhost:9000"), "message service gRPC address")
	fs.StringVar(&c.WSURL, "ws", envOr("RENTCHAT_WS", "ws://localhost:8080/ws"), "realtime gateway URL")
	fs.StringVar(&c.Token, "token", os.Getenv("RENTCHAT_TOKEN"), "bearer credential")
	fs.StringVarP(&c.UserID, "user", "u", os.Getenv("RENTCHAT_USER"), "your user id")
	fs.DurationVar(&c.Timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "log client internals to stderr")
}

func (c *connection) validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("--token (or RENTCHAT_TOKEN) is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("--user (or RENTCHAT_USER) is required")
	}
	return nil
}

func (c *connection) logger() *slog.Logger {
	if !c.Verbose {
		return obs.NopLogger()
	}
	return obs.NewLoggerTo(os.Stderr, "dev", slog.LevelDebug)
}

func (c *connection) messagingClient() (*messaging.Client, error) {
	return messaging.NewClient(messaging.Config{
		Addr:        c.GRPCAddr,
		CallTimeout: c.Timeout,
		Token:       c.Token,
	}, c.logger())
}

func (c *connection) adapter(client *messaging.Client) *chatclient.Adapter {
	return chatclient.New(chatclient.Options{
		URL:            c.WSURL,
		Messaging:      client,
		RequestTimeout: c.Timeout,
		Logger:         c.logger(),
	})
}

// parse parses args and returns the positional remainder.
func parse(fs *pflag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

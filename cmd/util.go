// Package cmd provides the boxbridge CLI commands.
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/credentials"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
	"github.com/otherjamesbrown/boxbridge/pkg/db"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Deps holds the dependencies shared by commands. Tests replace fields to
// point commands at fakes.
type Deps struct {
	LoadConfig   func() (*config.Config, error)
	OpenStore    func() (*credentials.Store, error)
	NewBox       func(cfg *config.Config) (*box.Client, error)
	ConnectDB    func(ctx context.Context, cfg *db.Config) (db.Conn, func(), error)
	ConnectRedis func(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error)
	ReadSecret   func(prompt string) (string, error)
	Getenv       func(key string) string
}

// DefaultDeps returns the production dependencies. load reads the
// configuration the root command was pointed at.
func DefaultDeps(load func() (*config.Config, error)) *Deps {
	return &Deps{
		LoadConfig:   load,
		OpenStore:    openStore,
		NewBox:       newBoxClient,
		ConnectDB:    connectToDatabase,
		ConnectRedis: connectToRedis,
		ReadSecret:   readSecret,
		Getenv:       os.Getenv,
	}
}

// LoadConfig reads the configuration at path and fills tokens missing from
// the environment from the credential store. A credential store that
// cannot be opened is reported on stderr and otherwise ignored.
func LoadConfig(path string, output string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if output != "" {
		cfg.Output = config.OutputFormat(output)
	}

	if cfg.Box.Token != "" && cfg.Analytics.Token != "" {
		return cfg, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return cfg, nil
	}
	if _, err := os.Stat(filepath.Join(dir, credentials.DefaultCredentialsFile)); err != nil {
		return cfg, nil
	}
	store, err := credentials.NewStore(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: credential store unavailable: %v\n", err)
		return cfg, nil
	}
	creds, err := store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read stored credentials: %v\n", err)
		return cfg, nil
	}
	cfg.ApplyCredentials(creds)
	return cfg, nil
}

func openStore() (*credentials.Store, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(dir)
}

func newBoxClient(cfg *config.Config) (*box.Client, error) {
	return box.New(cfg.Box.Options())
}

// connectToDatabase opens a pool and returns it with its close function.
func connectToDatabase(ctx context.Context, cfg *db.Config) (db.Conn, func(), error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return pool, func() { db.Close(pool) }, nil
}

// connectToRedis establishes a Redis connection.
func connectToRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Queue.RedisAddr, err)
	}

	return client, nil
}

// openQueue returns the configured queue. The redis client is returned too
// so callers can reuse it; it is nil for the memory backend.
func openQueue(ctx context.Context, cfg *config.Config, deps *Deps) (queues.Queue, redis.UniversalClient, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		client, err := deps.ConnectRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return queues.NewRedisQueue(client, cfg.Queue.QueueConfig), client, nil
	case config.QueueBackendMemory, "":
		return queues.NewMemoryQueue(cfg.Queue.QueueConfig), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

// openRedisQueue is openQueue for commands that only make sense against a
// shared queue. The returned function closes the queue and its client.
func openRedisQueue(ctx context.Context, cfg *config.Config, deps *Deps) (*queues.RedisQueue, func(), error) {
	if cfg.Queue.Backend != config.QueueBackendRedis {
		return nil, nil, errors.New("this command needs queue.backend=redis (the memory queue lives inside the serve process)")
	}
	q, client, err := openQueue(ctx, cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	return q.(*queues.RedisQueue), func() {
		_ = q.Close()
		_ = client.Close()
	}, nil
}

// newLogger builds the logger for cfg writing to w.
func newLogger(cfg *config.Config, w io.Writer) logging.Logger {
	return logging.NewLogger(cfg.Logging.Logger(buildinfo.ServiceName, w))
}

// readSecret prompts on stderr and reads a line without echo, falling back
// to a plain read when stdin is not a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// WriteOutput renders v as JSON or YAML, or calls text for the text format.
func WriteOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

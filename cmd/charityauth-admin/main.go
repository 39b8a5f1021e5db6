// Command charityauth-admin runs operator tasks against a deployed account
// store: schema migration, bulk account provisioning, verification review and
// status changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/logging"
	"github.com/MrEthical07/charityauth/notify"
	"github.com/MrEthical07/charityauth/storage/postgres"
)

const usage = `usage: charityauth-admin [flags] <command> [command flags]

commands:
  migrate                                   create tables
  bulk-create -role R -file F [-notify]     provision accounts from CSV (email,phone,username)
  pending [-limit N]                        list accounts awaiting document review
  review -account ID -reviewer ID (-approve | -reject) [-note S]
  set-status -account ID -status S [-actor ID]
  set-active -account ID -active=BOOL
  posture                                   print the security settings report
`

type options struct {
	configPath   string
	postgresDSN  string
	redisAddr    string
	kafkaBrokers string
	logLevel     string
	logEnv       string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("CHARITYAUTH_CONFIG"), "config file; environment overrides use the CHARITYAUTH_ prefix")
	flag.StringVar(&opts.postgresDSN, "postgres-dsn", os.Getenv("CHARITYAUTH_POSTGRES_DSN"), "postgres connection string")
	flag.StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address")
	flag.StringVar(&opts.kafkaBrokers, "kafka-brokers", os.Getenv("KAFKA_BROKERS"), "comma separated brokers; empty logs notifications instead")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.StringVar(&opts.logEnv, "log-env", "production", "production or development")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(opts.logLevel, opts.logEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger, command string, args []string) error {
	if opts.postgresDSN == "" {
		return fmt.Errorf("postgres dsn required")
	}
	pool, err := postgres.Open(ctx, opts.postgresDSN, 4)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.New(pool)

	if command == "migrate" {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		version, _, err := store.MigrationVersion(ctx)
		if err != nil {
			return err
		}
		logger.Info("schema ready", zap.Uint("version", version))
		return nil
	}

	engine, closeEngine, err := buildEngine(opts, store, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	switch command {
	case "bulk-create":
		return bulkCreate(ctx, engine, os.Stdout, args)
	case "pending":
		return listPending(ctx, engine, os.Stdout, args)
	case "review":
		return review(ctx, engine, os.Stdout, args)
	case "set-status":
		return setStatus(ctx, engine, args)
	case "set-active":
		return setActive(ctx, engine, args)
	case "posture":
		return printPosture(os.Stdout, engine.SecurityReport())
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildEngine(opts options, store charityauth.AccountStore, logger *zap.Logger) (*charityauth.Engine, func(), error) {
	cfg, err := charityauth.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.redisAddr == "" {
		return nil, nil, fmt.Errorf("redis address required")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{opts.redisAddr}})
	closers := []func(){func() { _ = rdb.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	b := charityauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithLogger(logger.Named("engine"))

	if brokers := splitList(opts.kafkaBrokers); len(brokers) > 0 {
		producer, err := notify.NewSyncProducer(brokers, logger.Named("kafka"))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		k, err := notify.NewKafka(producer, notify.DefaultTopics())
		if err != nil {
			_ = producer.Close()
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = k.Close() })
		b = b.WithNotifier(k).WithOTPTransport(k)
	} else {
		b = b.WithNotifier(notify.NewLog(logger.Named("notify")))
	}

	engine, err := b.Build()
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, engine.Close)
	return engine, closeAll, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/sbilibin2017/cbr-rates-loader/internal/clients"
	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/migrator"
	"github.com/sbilibin2017/cbr-rates-loader/internal/repositories"
	"github.com/sbilibin2017/cbr-rates-loader/internal/scheduler"
	"github.com/sbilibin2017/cbr-rates-loader/internal/services"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build info variables, set via ldflags at build time.
var (
	buildVersion = "N/A" // Version of the service
	buildDate    = "N/A" // Build date
	buildCommit  = "N/A" // Git commit hash
)

func main() {
	printBuildInfo()
	flags := parseFlags()

	pgHost, pgPort, pgUser, pgPassword, pgDB,
		pgMaxOpenConns, pgMaxIdleConns,
		cbrEndpoint, cbrTimeoutSecond,
		kafkaBrokers, kafkaTopic,
		redisAddr, redisPassword, redisDB, rateCacheExpSecond,
		logLevel,
		err := parseConfig(flags.configPath)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	if err := run(context.Background(), flags,
		pgHost, pgPort, pgUser, pgPassword, pgDB,
		pgMaxOpenConns, pgMaxIdleConns,
		cbrEndpoint, cbrTimeoutSecond,
		kafkaBrokers, kafkaTopic,
		redisAddr, redisPassword, redisDB, rateCacheExpSecond,
		logLevel,
	); err != nil {
		log.Fatalf("application stopped with error: %v", err)
	}
}

// printBuildInfo prints the build version, commit hash, and build date.
func printBuildInfo() {
	fmt.Printf("Starting service version %s, commit %s, build %s\n", buildVersion, buildCommit, buildDate)
}

// appFlags holds the resolved command-line options.
type appFlags struct {
	configPath string
	daemon     bool
	days       int
	from       string
	to         string
	runTime    string
	timezone   string
}

// parseFlags parses command-line flags.
func parseFlags() appFlags {
	var f appFlags
	flag.StringVar(&f.configPath, "c", "config.env", "Path to configuration file")
	flag.BoolVar(&f.daemon, "daemon", false, "Keep running and import daily after the initial window")
	flag.IntVar(&f.days, "days", 30, "Backfill window length in days")
	flag.StringVar(&f.from, "from", "", "Explicit range start (YYYY-MM-DD)")
	flag.StringVar(&f.to, "to", "", "Explicit range end (YYYY-MM-DD)")
	flag.StringVar(&f.runTime, "time", "02:00", "Local time of the daily import (HH:MM)")
	flag.StringVar(&f.timezone, "tz", "Europe/Moscow", "Timezone identifier for dates and the daily run time")
	flag.Parse()
	return f
}

// parseConfig loads environment variables from a file and returns
// all database, CBR, Kafka, Redis, and logging configuration.
func parseConfig(path string) (
	pgHost string, pgPort int, pgUser, pgPassword, pgDB string,
	pgMaxOpenConns, pgMaxIdleConns int,
	cbrEndpoint string, cbrTimeoutSecond int,
	kafkaBrokers, kafkaTopic string,
	redisAddr, redisPassword string, redisDB, rateCacheExpSecond int,
	logLevel string,
	err error,
) {
	_ = godotenv.Load(path)

	getEnv := func(key, defaultValue string) string {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		return defaultValue
	}

	logLevel = getEnv("APP_LOG_LEVEL", "info")

	// PostgreSQL config
	pgHost = getEnv("POSTGRES_HOST", "localhost")
	pgUser = getEnv("POSTGRES_USER", "postgres")
	pgPassword = getEnv("POSTGRES_PASSWORD", "postgres")
	pgDB = getEnv("POSTGRES_DB", "cbr_rates")
	if pgPort, err = strconv.Atoi(getEnv("POSTGRES_PORT", "5432")); err != nil {
		return
	}
	if pgMaxOpenConns, err = strconv.Atoi(getEnv("POSTGRES_MAX_OPEN_CONNS", "8")); err != nil {
		return
	}
	if pgMaxIdleConns, err = strconv.Atoi(getEnv("POSTGRES_MAX_IDLE_CONNS", "4")); err != nil {
		return
	}

	// CBR config
	cbrEndpoint = getEnv("CBR_ENDPOINT", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx")
	if cbrTimeoutSecond, err = strconv.Atoi(getEnv("CBR_TIMEOUT_SECOND", "30")); err != nil {
		return
	}

	// Kafka config (empty brokers disable publishing)
	kafkaBrokers = getEnv("KAFKA_BROKERS", "")
	kafkaTopic = getEnv("KAFKA_TOPIC", "cbr-rate-imports")

	// Redis config (empty addr disables the latest-rate cache)
	redisAddr = getEnv("REDIS_ADDR", "")
	redisPassword = getEnv("REDIS_PASSWORD", "")
	if redisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return
	}
	if rateCacheExpSecond, err = strconv.Atoi(getEnv("RATE_CACHE_EXP_SECOND", "0")); err != nil {
		return
	}

	return
}

// parseDate parses an optional YYYY-MM-DD flag value; empty yields zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// parseRunTime parses an HH:MM local time of day.
func parseRunTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid run time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// run initializes the logger, database, Kafka, Redis, and the scheduler,
// then drives the import pipeline until done or interrupted.
func run(ctx context.Context, flags appFlags,
	pgHost string, pgPort int, pgUser, pgPassword, pgDB string,
	pgMaxOpenConns, pgMaxIdleConns int,
	cbrEndpoint string, cbrTimeoutSecond int,
	kafkaBrokers, kafkaTopic string,
	redisAddr, redisPassword string, redisDB, rateCacheExpSecond int,
	logLevel string,
) error {
	// Initialize logger
	if err := logger.Initialize(logLevel); err != nil {
		fmt.Println("failed to initialize logger:", err)
		return err
	}
	defer logger.Sync()
	logger.Log.Infof("Logger initialized with level %s", logLevel)

	from, err := parseDate(flags.from)
	if err != nil {
		return fmt.Errorf("invalid -from date: %w", err)
	}
	to, err := parseDate(flags.to)
	if err != nil {
		return fmt.Errorf("invalid -to date: %w", err)
	}
	runHour, runMinute, err := parseRunTime(flags.runTime)
	if err != nil {
		return err
	}

	// The pool is opened without pinging: the readiness gate decides when
	// storage is usable, and connections are taken per operation afterwards.
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		pgUser, pgPassword, pgHost, pgPort, pgDB)
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening PostgreSQL pool: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)

	// CBR SOAP client
	httpClient := &http.Client{Timeout: time.Duration(cbrTimeoutSecond) * time.Second}
	cbrClient := clients.NewCBRClient(cbrEndpoint, httpClient)

	// Optional Kafka publisher
	var kafkaWriter services.KafkaWriter
	if kafkaBrokers != "" {
		w := &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(kafkaBrokers, ",")...),
			Topic:    kafkaTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer w.Close()
		kafkaWriter = w
		logger.Log.Infof("Kafka publishing enabled: %s -> %s", kafkaBrokers, kafkaTopic)
	}

	// Optional Redis latest-rate cache
	var cacheRepo services.RateCacheWriter
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		})
		defer rdb.Close()
		cacheRepo = repositories.NewRateCacheRepository(rdb, time.Duration(rateCacheExpSecond)*time.Second)
		logger.Log.Infof("Redis rate cache enabled: %s", redisAddr)
	}

	// Initialize repositories
	currencyRepo := repositories.NewCurrencyWriteRepository(db)
	rateReadRepo := repositories.NewCurrencyRateReadRepository(db)
	rateWriteRepo := repositories.NewCurrencyRateWriteRepository(db)

	// Initialize importer and scheduler
	importer := services.NewRateImporter(db, cbrClient, currencyRepo, rateReadRepo, rateWriteRepo, kafkaWriter, cacheRepo, kafkaTopic)
	runner := scheduler.NewRunner(importer, migrator.New(dsn), scheduler.Config{
		Daemon:           flags.daemon,
		From:             from,
		To:               to,
		BackfillDays:     flags.days,
		RunHour:          runHour,
		RunMinute:        runMinute,
		Timezone:         flags.timezone,
		SkipExistingDays: true,
	})

	// Cancel on SIGINT/SIGTERM; an import in flight finishes or fails on its own.
	ctxRun, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	return runner.Run(ctxRun)
}

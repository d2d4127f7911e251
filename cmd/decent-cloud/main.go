// Command decent-cloud runs one replica of the marketplace: the ledger and
// block producer, the HTTP API surface, and, when a database DSN is
// configured, the Postgres read-model projector that keeps search/listing
// queries off the ledger's hot path. Structured along appserver's
// flag-plus-config-file bootstrap (cmd/appserver/main.go) rather than the
// gateway's enclave-oriented one, since this binary has no MarbleRun
// dependency.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/go-redis/redis/v8"

	"github.com/decent-stuff/decent-cloud/infrastructure/logging"
	"github.com/decent-stuff/decent-cloud/infrastructure/metrics"
	"github.com/decent-stuff/decent-cloud/infrastructure/middleware"
	"github.com/decent-stuff/decent-cloud/internal/account"
	"github.com/decent-stuff/decent-cloud/internal/contract"
	"github.com/decent-stuff/decent-cloud/internal/core"
	"github.com/decent-stuff/decent-cloud/internal/httpapi"
	"github.com/decent-stuff/decent-cloud/internal/ledger"
	"github.com/decent-stuff/decent-cloud/internal/readmodel"
	"github.com/decent-stuff/decent-cloud/internal/search"
	"github.com/decent-stuff/decent-cloud/internal/sync"
	"github.com/decent-stuff/decent-cloud/pkg/config"
	"github.com/decent-stuff/decent-cloud/pkg/pgnotify"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN for the read model (overrides config/env; read model disabled when empty)")
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	runMigrations := flag.Bool("migrate", true, "apply embedded read-model migrations on startup")
	redisAddr := flag.String("redis-addr", "", "Redis address for the agent nonce-replay window (falls back to an in-process window when empty)")
	peerURL := flag.String("peer-url", "", "Bootstrap this replica by pull-syncing from a peer's HTTP surface before serving (e.g. https://peer.example.com)")
	peerTimeout := flag.Duration("peer-timeout", 30*time.Second, "per-request timeout used while bootstrapping from -peer-url")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewFromEnv("decent-cloud")
	m := metrics.Init("decent-cloud")

	redisClient := resolveRedisClient(*redisAddr, cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	nowNs := func() uint64 { return uint64(time.Now().UnixNano()) }
	state := core.New(cfg.Runtime, nowNs, logger, resolveFeeSinks(cfg.Runtime.FeeSinkAccounts), redisClient)
	contracts := contract.NewStore()
	offerings := defaultOfferingsSchema()

	if trimmed := strings.TrimSpace(*peerURL); trimmed != "" {
		if err := bootstrapFromPeer(context.Background(), state, trimmed, *peerTimeout, logger); err != nil {
			log.Fatalf("bootstrap from peer %s: %v", trimmed, err)
		}
	}

	// spec.md:90: RebuildCaches runs on startup (covering a non-empty ledger
	// restored from disk or, for this in-memory store, a no-op over an empty
	// one), in addition to the push/pull-sync call sites in core.New's
	// RefreshHook and bootstrapFromPeer below.
	if err := state.RebuildCaches(); err != nil {
		log.Fatalf("rebuild balance cache: %v", err)
	}

	dsnVal := resolveDSN(*dsn, cfg)
	var projector *readmodel.Projector
	var db *sql.DB
	if dsnVal != "" {
		db, err = sql.Open("postgres", dsnVal)
		if err != nil {
			log.Fatalf("open read-model database: %v", err)
		}
		if *runMigrations {
			if err := readmodel.Migrate(db); err != nil {
				log.Fatalf("apply read-model migrations: %v", err)
			}
		}
		bus, err := pgnotify.NewWithDB(db, dsnVal)
		if err != nil {
			log.Fatalf("connect read-model notify bus: %v", err)
		}
		projector = readmodel.New(sqlx.NewDb(db, "postgres"), bus)
		defer db.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if projector != nil {
		// Every committed block is pushed through the projector immediately
		// rather than polling the ledger on a second loop.
		state.Producer.PostCommit = func(record ledger.BlockRecord) {
			if err := projector.Project(ctx, []ledger.BlockRecord{record}); err != nil {
				logger.WithError(err).Error("read-model projection failed")
			}
		}
	}

	if err := state.Producer.Start(ctx); err != nil {
		log.Fatalf("start block producer: %v", err)
	}
	defer state.Producer.Stop()

	api := httpapi.New(state, contracts, logger, m, offerings)
	cors := &middleware.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Public-Key", "X-Signature", "X-Timestamp", "X-Nonce", "X-Agent-Pubkey"},
	}
	router := api.NewRouter(cors, 1<<20)

	listenAddr := determineAddr(*addr, cfg)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, 10*time.Second)
	shutdown.OnShutdown(func() {
		cancel()
		state.Producer.Stop()
	})
	shutdown.ListenForSignals()

	logger.Info(context.Background(), fmt.Sprintf("decent-cloud listening on %s", listenAddr), nil)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
	shutdown.Wait()
}

// bootstrapFromPeer pull-syncs state's ledger from peerURL's /sync/pull
// endpoint, applying each segment with Store.WriteRawSegment at the offset
// the peer reports, then rebuilds the balance/reputation cache by replay
// (spec.md:90) — bytes written this way never go through Transfer.Execute,
// so the cache would otherwise show every synced account at a zero
// balance. Intended for a fresh replica with an empty ledger; per spec
// §4.9 the server enforces the authorized-pusher rule on its own push
// endpoint, so this client only ever exercises pull.
func bootstrapFromPeer(ctx context.Context, state *core.State, peerURL string, timeout time.Duration, logger *logging.Logger) error {
	client, err := sync.NewPeerClient(peerURL, timeout)
	if err != nil {
		return err
	}
	logger.Info(ctx, fmt.Sprintf("bootstrapping ledger from peer %s", peerURL), nil)
	if err := client.Replicate(ctx, func(offset uint64, data []byte) error {
		return state.Ledger.WriteRawSegment(offset, data)
	}); err != nil {
		return err
	}
	return state.RebuildCaches()
}

func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return config.LoadFile(trimmed)
	}
	return config.Load()
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	if cfg != nil && cfg.Server.Port != 0 {
		host := strings.TrimSpace(cfg.Server.Host)
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	}
	return ":8080"
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveRedisClient(flagAddr string, cfg *config.Config) *redis.Client {
	addr := strings.TrimSpace(flagAddr)
	if addr == "" {
		addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	}
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func resolveFeeSinks(principals []string) []account.Account {
	if len(principals) == 0 {
		return nil
	}
	sinks := make([]account.Account, 0, len(principals))
	for _, p := range principals {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sinks = append(sinks, account.Account{Owner: p})
	}
	return sinks
}

// defaultOfferingsSchema is the allow-listed field set the search endpoint
// compiles filter strings against (spec §4.10/§4.11): offering metadata the
// read model projects, not raw ledger fields.
func defaultOfferingsSchema() search.Schema {
	return search.Schema{
		"region":      {Name: "region", Column: "region", Type: search.FieldString},
		"offering_id": {Name: "offering_id", Column: "offering_id", Type: search.FieldString},
		"provider":    {Name: "provider", Column: "provider_pubkey_hex", Type: search.FieldString},
		"price":       {Name: "price", Column: "monthly_price_e9s", Type: search.FieldNumeric},
		"gpu_model":   {Name: "gpu_model", Column: "gpu_model", Type: search.FieldTextLike},
	}
}

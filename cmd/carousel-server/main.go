package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/tiktok-carousel-service/internal/config"
	"github.com/fpang/tiktok-carousel-service/internal/credentials"
	"github.com/fpang/tiktok-carousel-service/internal/jobs"
	"github.com/fpang/tiktok-carousel-service/internal/logging"
	"github.com/fpang/tiktok-carousel-service/internal/metrics"
	"github.com/fpang/tiktok-carousel-service/internal/orchestrator"
	"github.com/fpang/tiktok-carousel-service/internal/publisher"
	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
	"github.com/fpang/tiktok-carousel-service/internal/uploader"
)

// CLI flags
var (
	addrFlag    string
	envFileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "carousel-server",
	Short: "HTTP service that publishes photo carousels to TikTok",
	Long: `Carousel Server accepts image sets over HTTP, uploads each asset to
TikTok's media API with bounded retries, and publishes them as a single
carousel post. Requests run inline or as polled background jobs.

Examples:
  carousel-server
  carousel-server --addr :9090
  carousel-server --env-file ./prod.env`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides CAROUSEL_LISTEN_ADDR)")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Env file to load before reading configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	start := time.Now()

	// Missing env file is fine; real deployments inject env directly.
	if err := godotenv.Load(envFileFlag); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFileFlag, err)
		os.Exit(1)
	}

	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if addrFlag != "" {
		cfg.ListenAddr = addrFlag
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	apiClient := tiktok.NewClient(cfg.APIBaseURL)
	store := credentials.NewStore(cfg.EncryptionKey, apiClient)
	seedAccounts(store, cfg)

	registry := jobs.NewRegistry(collector)
	pipeline := uploader.NewPipeline(apiClient, store, collector, cfg.MaxRetries, cfg.RetryBaseDelay)
	posts := publisher.NewPublisher(apiClient, store, collector)
	orch := orchestrator.New(pipeline, posts, registry)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	registry.StartReaper(reaperCtx, cfg.ReaperInterval, cfg.JobRetention, cfg.JobStaleTimeout)

	srv := &server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		orch:     orch,
		api:      apiClient,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/posts", srv.handleCreatePost)
	mux.HandleFunc("/api/jobs", srv.handleListJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJobRoutes)
	mux.HandleFunc("/api/accounts", srv.handleAccounts)
	mux.HandleFunc("/api/auth/login", srv.handleAuthLogin)
	mux.HandleFunc("/api/auth/callback", srv.handleAuthCallback)
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		stopReaper()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	logging.NewStartupLogger("carousel-server").
		Accounts(store.AccountIDs()).
		Feature("reaper", true).
		Config("listenAddr", cfg.ListenAddr).
		Config("apiBaseUrl", cfg.APIBaseURL).
		Config("maxRetries", fmt.Sprintf("%d", cfg.MaxRetries)).
		InitDuration(time.Since(start)).
		Log()

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// seedAccounts loads pre-authorized tokens from the environment so the
// service can publish without an interactive OAuth round trip. Variables
// follow CAROUSEL_ACCOUNT_<ID>_ACCESS_TOKEN / _REFRESH_TOKEN; accounts
// without both are skipped.
func seedAccounts(store *credentials.Store, cfg *config.Config) {
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "CAROUSEL_ACCOUNT_") || !strings.HasSuffix(name, "_ACCESS_TOKEN") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "CAROUSEL_ACCOUNT_"), "_ACCESS_TOKEN")
		access := os.Getenv(name)
		refresh := os.Getenv("CAROUSEL_ACCOUNT_" + id + "_REFRESH_TOKEN")
		if access == "" || refresh == "" {
			log.Warn().Str("account", id).Msg("Skipping account with incomplete token pair")
			continue
		}

		accountID := strings.ToLower(id)
		err := store.StoreCredentials(accountID, credentials.Credential{
			ClientID:     cfg.ClientKey,
			ClientSecret: cfg.ClientSecret,
			RedirectURI:  cfg.RedirectURI,
			AppID:        cfg.AppID,
			AccessToken:  access,
			RefreshToken: refresh,
			// Force a refresh on first use; the seed env carries no expiry.
			ExpiresAt: time.Now(),
		})
		if err != nil {
			log.Error().Err(err).Str("account", accountID).Msg("Failed to seed account credentials")
			continue
		}
		log.Info().Str("account", accountID).Msg("Seeded account credentials")
	}
}

// withLogging logs one line per API request.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

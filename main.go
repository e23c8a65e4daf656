package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"typhonrelay/internal/api"
	"typhonrelay/internal/auth"
	"typhonrelay/internal/chat"
	"typhonrelay/internal/completion"
	"typhonrelay/internal/config"
	"typhonrelay/internal/facebook"
	"typhonrelay/internal/logging"
	"typhonrelay/internal/models"
	"typhonrelay/internal/redis"
	"typhonrelay/internal/session"
	"typhonrelay/internal/storage"
	"typhonrelay/internal/transcript"
	"typhonrelay/internal/worker"
)

func main() {
	defer logging.Sync()
	log := logging.L()

	envFile := os.Getenv("TYPHON_ENV_FILE")
	if err := config.LoadEnvFile(envFile); err != nil {
		log.Fatal("load env file", zap.Error(err))
	}
	cfg, err := config.Load(os.Getenv("TYPHON_CONFIG"))
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	dbType := cfg.BasicConfig.DBType
	log.Info("opening database", zap.String("db_type", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	// Create necessary tables: players, user_tokens, chat_entries, chat_pairs
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatal("create redis client", zap.Error(err))
		}
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDirectory := auth.NewSQLDirectory(db)
	if err := sqlDirectory.SeedPlayers(ctx, seedPlayers(cfg.Players)); err != nil {
		log.Fatal("seed players", zap.Error(err))
	}
	log.Info("players seeded", zap.Int("count", len(cfg.Players)))

	var (
		sinks     transcript.MultiSink
		directory = auth.ChainDirectory{sqlDirectory}
	)
	if cfg.SheetsEnabled() {
		svc, err := transcript.NewSheetsService(ctx, cfg.Sheets)
		if err != nil {
			log.Fatal("create sheets service", zap.Error(err))
		}
		sheetSink, err := transcript.NewSheetsSink(svc, cfg.Sheets)
		if err != nil {
			log.Fatal("create sheets sink", zap.Error(err))
		}
		sinks = append(sinks, sheetSink)
		directory = append(directory, auth.NewSheetDirectory(svc, cfg.Sheets.SpreadsheetID, cfg.Sheets.PlayerRange))
	} else {
		log.Warn("GOOGLE_SPREADSHEET_ID not set, spreadsheet transcript disabled")
	}
	if cfg.Transcript.SQLMirror || len(sinks) == 0 {
		sinks = append(sinks, transcript.NewSQLSink(db))
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers: 1,
		MaxWorkers: cfg.Transcript.Workers,
		QueueSize:  cfg.Transcript.QueueSize,
		JobTimeout: 30 * time.Second,
	})
	recorder := transcript.NewAsyncRecorder(sinks, dispatcher)

	authService := auth.NewService(db, rdb, directory, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	authService.StartTokenPurger(ctx, auth.DefaultPurgeInterval)

	client, err := completion.New(ctx, cfg.Typhon, cfg.Providers)
	if err != nil {
		log.Fatal("create completion client", zap.Error(err))
	}

	store := session.NewStore(cfg.Session.MaxMessages)
	orchestrator := chat.NewOrchestrator(store, client,
		chat.WithDefaultModel(cfg.Typhon.Model),
		chat.WithRecorder(recorder),
	)

	handlers := api.NewHandler(api.Deps{
		Orchestrator: orchestrator,
		Completion:   client,
		Auth:         authService,
		Transcript:   sinks,
		Facebook:     facebook.NewClient(cfg.Facebook),
		EnvStore:     facebook.NewEnvStore(cfg.BasicConfig.EnvFile),
		Typhon:       cfg.Typhon,
		AllowOrigins: cfg.BasicConfig.AllowOrigins,
	})

	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.Typhon.Provider),
			zap.String("model", cfg.Typhon.Model),
			zap.Int("max_messages", cfg.Session.MaxMessages),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("transcript dispatcher shutdown", zap.Error(err))
	}
	store.Reset()
}

func seedPlayers(in []config.PlayerConfig) []models.Player {
	out := make([]models.Player, 0, len(in))
	for _, p := range in {
		out = append(out, models.Player{ID: p.ID, Name: p.Name, PIN: p.PIN})
	}
	return out
}

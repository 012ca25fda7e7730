package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/townd/server/internal/api"
	"github.com/townd/server/internal/config"
	"github.com/townd/server/internal/data"
	"github.com/townd/server/internal/engine"
	"github.com/townd/server/internal/ops"
	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/scripting"
	"github.com/townd/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("TOWND_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting", zap.String("server", cfg.Server.Name))

	// 3. Connect to PostgreSQL and run migrations
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	db, err := persist.NewDB(bootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := persist.RunMigrations(bootCtx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database ready")

	// 4. Create repositories
	worldRepo := persist.NewWorldRepo(db)
	engineRepo := persist.NewEngineRepo(db)
	inputRepo := persist.NewInputRepo(db)
	domainRepo := persist.NewDomainRepo(db)
	cleanupRepo := persist.NewCleanupRepo(db, cfg.Engine.DeleteBatchSize)
	botRepo := persist.NewBotRepo(db)

	// 5. Load static data
	dataDir := cfg.Data.Dir
	if dataDir == "" {
		dataDir = "data"
	}
	mapTable, err := data.LoadMapTable(filepath.Join(dataDir, "maps.yaml"))
	if err != nil {
		return fmt.Errorf("load maps: %w", err)
	}
	log.Info("maps loaded", zap.Int("count", mapTable.Count()))

	characterTable, err := data.LoadCharacterTable(filepath.Join(dataDir, "characters.yaml"))
	if err != nil {
		return fmt.Errorf("load characters: %w", err)
	}
	log.Info("characters loaded", zap.Int("count", characterTable.Count()))

	// 6. Balance scripting engine
	luaEngine, err := scripting.NewEngine(cfg.Balance.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	log.Info("balance scripts loaded")

	// 7. Operation runner
	runner := ops.NewRunner(log, luaEngine, domainRepo, cleanupRepo, inputRepo, nil)

	// 8. Supervisor
	deps := engine.Deps{
		Cfg:        cfg.Engine,
		Log:        log,
		Worlds:     worldRepo,
		Engines:    engineRepo,
		Journal:    inputRepo,
		Store:      worldRepo,
		Views:      domainRepo,
		Dispatcher: runner,
	}
	sup := engine.NewSupervisor(
		cfg.Engine, log,
		worldRepo, engineRepo, botRepo,
		inputRepo, inputRepo,
		deps, mapTable,
		world.DefaultTunables(), cfg.Balance.WorldSeed,
	)

	// 9. API server
	server := api.NewServer(cfg, log, sup, worldRepo, engineRepo, inputRepo, botRepo)

	// 10. Run until signalled
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	runner.Start(rootCtx, cfg.Engine.OperationWorkers)

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(rootCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("api server stopped", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}

	rootCancel()
	<-supDone
	runner.Wait()
	log.Info("stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

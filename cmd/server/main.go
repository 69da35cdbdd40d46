// cmd/server is the main entrypoint for one replica of the config
// repository.
//
// Configuration loads from an optional YAML file plus flags/environment
// (see internal/config), so a single binary can serve any replica in the
// cluster.
//
// Example:
//
//	./server --config replica1.yaml
//	./server --node replica1 --coordination-endpoints 127.0.0.1:2181 --http-addr :8080
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"distributed-configstore/internal/api"
	"distributed-configstore/internal/config"
	"distributed-configstore/internal/coordination"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/storage/memengine"
)

func main() {
	var configFile string
	var dataDir string

	v := viper.New()
	root := &cobra.Command{
		Use:   "server",
		Short: "Run one replica of the config repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, v)
			if err != nil {
				return err
			}
			return run(cfg, dataDir)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "local directory for the engine snapshot (empty disables persistence)")
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configFile string, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	// Flags bound directly into v above take precedence over file/env;
	// re-unmarshal only the flags that were set so CLI overrides win
	// without unset flags' zero defaults replacing loaded values.
	overrides := viper.New()
	for _, key := range v.AllKeys() {
		if v.IsSet(key) {
			overrides.Set(key, v.Get(key))
		}
	}
	if err := overrides.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("server: unmarshal flag overrides: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, dataDir string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("server: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting replica", zap.String("node", cfg.Node), zap.Strings("coordination_endpoints", cfg.Coordination.Endpoints))

	coord, err := coordination.Dial(coordination.Config{
		Endpoints:      cfg.Coordination.Endpoints,
		SessionTimeout: time.Duration(cfg.Coordination.SessionTimeoutMillis) * time.Millisecond,
		RootPath:       cfg.Coordination.RootPath,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("server: dial coordination service: %w", err)
	}
	defer coord.Close()

	engine, err := memengine.New(dataDir)
	if err != nil {
		return fmt.Errorf("server: open engine: %w", err)
	}

	limiter, err := quota.New(coord, engine, cfg.Coordination.RootPath)
	if err != nil {
		return fmt.Errorf("server: build write-quota limiter: %w", err)
	}

	replicaID := nodeOrdinal(cfg.Node)
	exec := executor.New(coord, engine, limiter, engine, executor.Config{
		ReplicaID:       replicaID,
		RootPath:        cfg.Coordination.RootPath,
		DataDir:         dataDir,
		NumWorkers:      cfg.Executor.NumWorkers,
		LockTimeout:     time.Duration(cfg.Executor.LockTimeoutMillis) * time.Millisecond,
		MaxLogCount:     cfg.Log.MaxCount,
		MinLogAgeMillis: cfg.Log.MinAgeMillis,
		PruneInterval:   time.Minute,
		Logger:          log,
	})

	onTakeLeadership := func() { log.Info("acquired leadership") }
	onReleaseLeadership := func() { log.Info("released leadership") }
	if err := exec.Start(onTakeLeadership, onReleaseLeadership); err != nil {
		return fmt.Errorf("server: start executor: %w", err)
	}
	defer exec.Stop() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.RequestID(), api.Logger(log), api.Recovery(log))
	api.NewHandler(exec, engine, engine).Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"node": cfg.Node, "status": "ok", "writable": exec.IsWritable()})
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Periodic checkpoint; with the final one at shutdown these are the
	// only engine snapshots, and they keep restart replay bounded on every
	// replica, leader or not.
	checkpointTicker := time.NewTicker(time.Minute)
	defer checkpointTicker.Stop()
	go func() {
		for range checkpointTicker.C {
			if err := engine.Checkpoint(); err != nil {
				log.Warn("checkpoint failed", zap.Error(err))
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", zap.String("node", cfg.Node))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := engine.Checkpoint(); err != nil {
		log.Warn("final checkpoint failed", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
	return nil
}

// nodeOrdinal derives a small stable integer from a node name for use as
// executor.Config.ReplicaID (which only needs to be distinct per replica,
// not globally meaningful).
func nodeOrdinal(node string) int {
	var h int
	for _, r := range node {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return h%4096 + 1
}

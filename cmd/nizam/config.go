package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/md-riaz/NIZAM-sub001/internal/db"
	"github.com/md-riaz/NIZAM-sub001/internal/health"
	"github.com/md-riaz/NIZAM-sub001/internal/metrics"
	"github.com/md-riaz/NIZAM-sub001/internal/store"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

var (
	database   *db.DB
	cache      *db.Cache
	dataStore  store.Store
	metricsSvc *metrics.PrometheusMetrics
	healthSvc  *health.HealthService
)

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("nizam")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/nizam")
	}

	viper.SetEnvPrefix("NIZAM")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	return nil
}

func setDefaults() {
	// Database defaults
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "nizam")
	viper.SetDefault("database.password", "nizam")
	viper.SetDefault("database.database", "nizam")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Switch event socket defaults
	viper.SetDefault("switch.host", "localhost")
	viper.SetDefault("switch.port", 8021)
	viper.SetDefault("switch.password", "ClueCon")
	viper.SetDefault("switch.connect_timeout", "10s")
	viper.SetDefault("switch.api_timeout", "10s")

	// Redis cache defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// XML pull endpoint defaults
	viper.SetDefault("xmlapi.listen_address", "0.0.0.0")
	viper.SetDefault("xmlapi.port", 8085)

	// Webhook defaults
	viper.SetDefault("webhook.workers", 4)
	viper.SetDefault("webhook.queue_size", 1000)

	// Queue housekeeping defaults
	viper.SetDefault("queue.sweep_interval", "10s")

	// Monitoring defaults
	viper.SetDefault("monitoring.metrics.enabled", true)
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("monitoring.health.enabled", true)
	viper.SetDefault("monitoring.health.port", 8080)
	viper.SetDefault("monitoring.logging.level", "info")
	viper.SetDefault("monitoring.logging.format", "json")
}

// initializeForCLI boots config, logging and the store for every
// subcommand that touches the database.
func initializeForCLI(ctx context.Context) error {
	if err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logConfig := logger.Config{
		Level:  viper.GetString("monitoring.logging.level"),
		Format: viper.GetString("monitoring.logging.format"),
		Output: viper.GetString("monitoring.logging.output"),
		File: logger.FileConfig{
			Enabled:    viper.GetBool("monitoring.logging.file.enabled"),
			Path:       viper.GetString("monitoring.logging.file.path"),
			MaxSize:    viper.GetInt("monitoring.logging.file.max_size"),
			MaxBackups: viper.GetInt("monitoring.logging.file.max_backups"),
			MaxAge:     viper.GetInt("monitoring.logging.file.max_age"),
			Compress:   viper.GetBool("monitoring.logging.file.compress"),
		},
	}
	if verbose {
		logConfig.Level = "debug"
		logConfig.Format = "text"
	}

	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	return initializeDatabase(ctx)
}

func initializeDatabase(ctx context.Context) error {
	dbConfig := db.Config{
		Driver:          viper.GetString("database.driver"),
		Host:            viper.GetString("database.host"),
		Port:            viper.GetInt("database.port"),
		Username:        viper.GetString("database.username"),
		Password:        viper.GetString("database.password"),
		Database:        viper.GetString("database.database"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		RetryAttempts:   3,
		RetryDelay:      time.Second,
	}

	if err := db.Initialize(dbConfig); err != nil {
		return err
	}
	database = db.GetDB()

	cacheConfig := db.CacheConfig{
		Host:         viper.GetString("redis.host"),
		Port:         viper.GetInt("redis.port"),
		Password:     viper.GetString("redis.password"),
		DB:           viper.GetInt("redis.db"),
		PoolSize:     viper.GetInt("redis.pool_size"),
		MinIdleConns: viper.GetInt("redis.min_idle_conns"),
		MaxRetries:   viper.GetInt("redis.max_retries"),
	}

	if err := db.InitializeCache(cacheConfig, "nizam"); err != nil {
		logger.WithError(err).Warn("Failed to initialize Redis cache, running without cache")
	}
	cache = db.GetCache()

	dataStore = store.NewMySQLStore(database, cache)
	metricsSvc = metrics.NewPrometheusMetrics()

	return nil
}

func startMonitoring() {
	if viper.GetBool("monitoring.health.enabled") {
		healthSvc = health.NewHealthService(viper.GetInt("monitoring.health.port"))

		healthSvc.RegisterLivenessCheck("database", health.CheckFunc(func(ctx context.Context) error {
			if !database.IsHealthy() {
				return fmt.Errorf("database not healthy")
			}
			return database.PingContext(ctx)
		}))
		healthSvc.RegisterReadinessCheck("database", health.CheckFunc(func(ctx context.Context) error {
			return database.PingContext(ctx)
		}))

		go healthSvc.Start()
	}

	if viper.GetBool("monitoring.metrics.enabled") {
		go metricsSvc.ServeHTTP(viper.GetInt("monitoring.metrics.port"))
	}
}

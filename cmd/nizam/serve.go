package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/md-riaz/NIZAM-sub001/internal/db"
	"github.com/md-riaz/NIZAM-sub001/internal/modules"
	"github.com/md-riaz/NIZAM-sub001/internal/xmlconf"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

func createServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switch configuration pull endpoint",
		Long:  "Serves directory and dialplan XML to the switch, plus health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}
			startMonitoring()

			registry := modules.NewRegistry()
			compiler := xmlconf.NewCompiler(dataStore, registry)
			handler := xmlconf.NewHandler(compiler, metricsSvc)

			router := mux.NewRouter()
			handler.Register(router)

			addr := fmt.Sprintf("%s:%d",
				viper.GetString("xmlapi.listen_address"), viper.GetInt("xmlapi.port"))
			server := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				logger.Info("XML pull endpoint started", "addr", addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("XML pull endpoint failed", "error", err)
				}
			}()

			<-sigChan
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)

			if healthSvc != nil {
				healthSvc.Stop()
			}

			return nil
		},
	}
}

func createInitDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			logger.Info("Running database migrations")
			if err := db.RunMigrations(database.DB); err != nil {
				return err
			}
			logger.Info("Database initialization completed")

			return nil
		},
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/md-riaz/NIZAM-sub001/internal/esl"
	"github.com/md-riaz/NIZAM-sub001/internal/events"
	"github.com/md-riaz/NIZAM-sub001/internal/listener"
	"github.com/md-riaz/NIZAM-sub001/internal/modules"
	"github.com/md-riaz/NIZAM-sub001/internal/queue"
	"github.com/md-riaz/NIZAM-sub001/internal/webhook"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// subscribedEvents names the switch event types the processor handles.
var subscribedEvents = []string{
	"CHANNEL_CREATE",
	"CHANNEL_ANSWER",
	"CHANNEL_BRIDGE",
	"CHANNEL_HANGUP_COMPLETE",
	"CUSTOM callcenter::info",
}

func createListenCommand() *cobra.Command {
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the event-socket listener",
		Long:  "Connects to the switch event socket and processes call events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}
			startMonitoring()

			client := esl.NewClient(esl.Config{
				Host:           viper.GetString("switch.host"),
				Port:           viper.GetInt("switch.port"),
				Password:       viper.GetString("switch.password"),
				ConnectTimeout: viper.GetDuration("switch.connect_timeout"),
				APITimeout:     viper.GetDuration("switch.api_timeout"),
			})

			dispatcher := webhook.NewDispatcher(dataStore, metricsSvc, webhook.Config{
				Workers:   viper.GetInt("webhook.workers"),
				QueueSize: viper.GetInt("webhook.queue_size"),
			})
			defer dispatcher.Close()

			bus := modules.NewBus()
			engine := queue.NewEngine(dataStore)
			processor := events.NewProcessor(dataStore, engine, dispatcher, bus, metricsSvc)

			sweepCtx, stopSweep := context.WithCancel(ctx)
			defer stopSweep()
			sweeper := queue.NewSweeper(dataStore, engine, cache,
				viper.GetDuration("queue.sweep_interval"))
			go sweeper.Run(sweepCtx)

			l := listener.New(client, processor, metricsSvc, subscribedEvents)
			l.MaxRetries = maxRetries

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				logger.Info("Received signal, stopping listener", "signal", sig.String())
				l.Stop()
			}()

			if err := l.Run(ctx); err != nil {
				if errors.Is(err, errors.ErrExhaustedRetries) {
					logger.Error("Listener stopped: retries exhausted")
					os.Exit(1)
				}
				return err
			}

			logger.Info("Listener stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Maximum consecutive connection attempts (0 = unlimited)")

	return cmd
}

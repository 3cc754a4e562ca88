package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/md-riaz/NIZAM-sub001/internal/metrics"
	"github.com/md-riaz/NIZAM-sub001/internal/models"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func createTenantCommands() *cobra.Command {
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect tenants",
	}

	tenantCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			tenants, err := dataStore.ListTenants(ctx)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Domain", "Status", "Webhook"})

			for _, t := range tenants {
				webhook := "-"
				if t.WebhookURL != "" {
					webhook = t.WebhookURL
				}
				table.Append([]string{
					strconv.FormatInt(t.ID, 10),
					t.Name,
					t.Domain,
					colorTenantStatus(t.Status),
					webhook,
				})
			}

			table.Render()
			return nil
		},
	})

	var tenantID int64
	var status string

	setStatusCmd := &cobra.Command{
		Use:   "set-status",
		Short: "Change a tenant's lifecycle status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			newStatus := models.TenantStatus(status)
			if !newStatus.Valid() {
				return fmt.Errorf("unknown tenant status %q", status)
			}

			if err := dataStore.UpdateTenantStatus(ctx, tenantID, newStatus); err != nil {
				return err
			}

			fmt.Printf("%s Tenant %d is now %s\n", green("✓"), tenantID, colorTenantStatus(newStatus))
			return nil
		},
	}
	setStatusCmd.Flags().Int64Var(&tenantID, "id", 0, "Tenant ID")
	setStatusCmd.Flags().StringVar(&status, "status", "", "New status (active/trial/suspended/terminated)")
	setStatusCmd.MarkFlagRequired("id")
	setStatusCmd.MarkFlagRequired("status")
	tenantCmd.AddCommand(setStatusCmd)

	return tenantCmd
}

func createQueueCommands() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect call queues",
	}

	var tenantID int64

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show live queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			queues, err := dataStore.ListQueues(ctx, tenantID)
			if err != nil {
				return err
			}
			if len(queues) == 0 {
				fmt.Printf("%s No queues for tenant %d\n", yellow("!"), tenantID)
				return nil
			}

			aggregator := metrics.NewAggregator(dataStore).WithGauges(metricsSvc)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{
				"Queue", "Strategy", "Waiting", "Answered", "Abandoned",
				"Avg Wait", "Max Wait", "Abandon %", "SL %", "Occupancy %",
			})

			for i := range queues {
				q := &queues[i]
				stats, err := aggregator.GetRealTimeMetrics(ctx, q)
				if err != nil {
					return err
				}
				table.Append([]string{
					q.Name,
					string(q.Strategy),
					strconv.Itoa(stats.WaitingCalls),
					strconv.Itoa(stats.AnsweredCalls),
					strconv.Itoa(stats.AbandonedCalls),
					fmt.Sprintf("%.2fs", stats.AverageWaitTime),
					fmt.Sprintf("%.0fs", stats.MaxWaitTime),
					fmt.Sprintf("%.2f", stats.AbandonRate),
					fmt.Sprintf("%.2f", stats.ServiceLevel),
					fmt.Sprintf("%.2f", stats.AgentOccupancy),
				})
			}

			table.Render()
			return nil
		},
	}
	statusCmd.Flags().Int64Var(&tenantID, "tenant", 0, "Tenant ID")
	statusCmd.MarkFlagRequired("tenant")

	var queueID int64
	var period string

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compute and persist a period metrics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			q, err := dataStore.GetQueue(ctx, queueID)
			if err != nil {
				return err
			}

			p := models.MetricPeriod(period)
			now := time.Now().UTC()
			var periodStart time.Time
			if p == models.PeriodDaily {
				periodStart = now.Truncate(24 * time.Hour)
			} else {
				periodStart = now.Truncate(time.Hour)
			}

			aggregator := metrics.NewAggregator(dataStore)
			metric, err := aggregator.AggregateMetrics(ctx, q, p, periodStart)
			if err != nil {
				return err
			}

			fmt.Printf("%s Snapshot for queue '%s' (%s starting %s): %d calls, %.2f%% abandoned\n",
				green("✓"), q.Name, period, periodStart.Format(time.RFC3339),
				metric.TotalCalls, metric.AbandonRate)
			return nil
		},
	}
	aggregateCmd.Flags().Int64Var(&queueID, "queue", 0, "Queue ID")
	aggregateCmd.Flags().StringVar(&period, "period", "hourly", "Period (hourly/daily)")
	aggregateCmd.MarkFlagRequired("queue")

	queueCmd.AddCommand(statusCmd, aggregateCmd)
	return queueCmd
}

func createAgentCommands() *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agents",
	}

	var tenantID int64

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List agents and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			agents, err := dataStore.ListAgents(ctx, tenantID)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Extension", "State", "Pause Reason", "Since"})

			for _, a := range agents {
				pauseReason := "-"
				if a.PauseReason != "" {
					pauseReason = a.PauseReason
				}
				table.Append([]string{
					strconv.FormatInt(a.ID, 10),
					a.Name,
					a.Extension,
					colorAgentState(a.State),
					pauseReason,
					a.StateChangedAt.Format("15:04:05"),
				})
			}

			table.Render()
			return nil
		},
	}
	listCmd.Flags().Int64Var(&tenantID, "tenant", 0, "Tenant ID")
	listCmd.MarkFlagRequired("tenant")

	agentCmd.AddCommand(listCmd)
	return agentCmd
}

func colorTenantStatus(status models.TenantStatus) string {
	switch status {
	case models.TenantStatusActive:
		return green(string(status))
	case models.TenantStatusTrial:
		return yellow(string(status))
	default:
		return red(string(status))
	}
}

func colorAgentState(state models.AgentState) string {
	switch state {
	case models.AgentStateAvailable:
		return green(string(state))
	case models.AgentStateBusy, models.AgentStateRinging:
		return yellow(string(state))
	case models.AgentStatePaused:
		return yellow(string(state))
	default:
		return red(string(state))
	}
}

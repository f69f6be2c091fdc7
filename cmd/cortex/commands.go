package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortexops/cortex/pkg/client"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/spf13/cobra"
)

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine heartbeat",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		hb, err := newClient(cmd).Heartbeat(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Module: %s\n", hb.Module)
		fmt.Printf("  Cycle: %d\n", hb.Cycle)
		fmt.Printf("  System Health: %.2f\n", hb.SystemHealth)
		fmt.Printf("  Modules Monitored: %d\n", hb.ModulesMonitored)
		fmt.Printf("  Isolated: %d\n", hb.IsolatedCount)
		return nil
	},
}

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage coordinated modules",
}

var moduleRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a module for coordination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		healthEndpoint, _ := cmd.Flags().GetString("health-endpoint")
		syncEndpoint, _ := cmd.Flags().GetString("sync-endpoint")
		critical, _ := cmd.Flags().GetBool("critical")
		ert, _ := cmd.Flags().GetDuration("expected-response-time")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")

		ctx, cancel := cmdContext()
		defer cancel()

		m, err := newClient(cmd).RegisterModule(ctx, &client.RegisterModuleRequest{
			Name:                 args[0],
			URL:                  url,
			HealthEndpoint:       healthEndpoint,
			SyncEndpoint:         syncEndpoint,
			Critical:             critical,
			ExpectedResponseTime: ert,
			DependsOn:            dependsOn,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered module '%s'\n", m.Name)
		fmt.Printf("  ID: %s\n", m.ID)
		fmt.Printf("  State: %s\n", m.State)
		return nil
	},
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		modules, err := newClient(cmd).ListModules(ctx)
		if err != nil {
			return err
		}
		if len(modules) == 0 {
			fmt.Println("No modules registered")
			return nil
		}
		for _, m := range modules {
			fmt.Printf("%s  %s  %s", m.ID, m.Name, m.State)
			if m.Critical {
				fmt.Print("  [critical]")
			}
			if m.PermanentlyIsolated {
				fmt.Print("  [permanently isolated]")
			}
			fmt.Println()
		}
		return nil
	},
}

var moduleGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		m, err := newClient(cmd).GetModule(ctx, args[0])
		if err != nil {
			return err
		}
		printModule(m)
		return nil
	},
}

var moduleCheckCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Run an on-demand health check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		m, err := newClient(cmd).CheckModule(ctx, args[0])
		if err != nil {
			return err
		}
		printModule(m)
		return nil
	},
}

var moduleIsolateCmd = &cobra.Command{
	Use:   "isolate <id>",
	Short: "Manually isolate a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		ctx, cancel := cmdContext()
		defer cancel()

		m, err := newClient(cmd).IsolateModule(ctx, args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("Module '%s' isolated\n", m.Name)
		return nil
	},
}

var moduleRecoverCmd = &cobra.Command{
	Use:   "recover <id>",
	Short: "Start recovery for an isolated module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		m, err := newClient(cmd).RecoverModule(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Module '%s' recovering (attempt %d)\n", m.Name, m.RecoveryAttempts)
		return nil
	},
}

var moduleDeregisterCmd = &cobra.Command{
	Use:   "deregister <id>",
	Short: "Remove a module from coordination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		if err := newClient(cmd).DeregisterModule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Module %s deregistered\n", args[0])
		return nil
	},
}

func printModule(m *types.Module) {
	fmt.Printf("Module: %s\n", m.Name)
	fmt.Printf("  ID: %s\n", m.ID)
	fmt.Printf("  URL: %s\n", m.URL)
	fmt.Printf("  State: %s\n", m.State)
	fmt.Printf("  Critical: %v\n", m.Critical)
	fmt.Printf("  Consecutive Failures: %d\n", m.ConsecutiveFailures)
	fmt.Printf("  Recovery Attempts: %d\n", m.RecoveryAttempts)
	fmt.Printf("  Last Cycle Acked: %d\n", m.LastCycleAcked)
	if len(m.DependsOn) > 0 {
		fmt.Printf("  Depends On: %s\n", strings.Join(m.DependsOn, ", "))
	}
	if m.PermanentlyIsolated {
		fmt.Println("  Permanently isolated: manual recovery required")
	}
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the worker fleet",
}

var workerRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new worker incarnation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		url, _ := cmd.Flags().GetString("url")

		ctx, cancel := cmdContext()
		defer cancel()

		w, err := newClient(cmd).RegisterWorker(ctx, &client.RegisterWorkerRequest{
			Name:       args[0],
			TemplateID: templateID,
			URL:        url,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered worker '%s'\n", w.Name)
		fmt.Printf("  DSN: %s\n", w.DSN)
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers, retired included",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		workers, err := newClient(cmd).ListWorkers(ctx)
		if err != nil {
			return err
		}
		if len(workers) == 0 {
			fmt.Println("No workers registered")
			return nil
		}
		for _, w := range workers {
			fmt.Printf("%s  %s  %s  drift=%.2f  patches=%d\n",
				w.DSN, w.Name, w.LifecycleState, w.DriftScore, len(w.PatchesApplied))
		}
		return nil
	},
}

var workerSunsetCmd = &cobra.Command{
	Use:   "sunset <dsn>",
	Short: "Retire a worker after exporting its patterns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		ctx, cancel := cmdContext()
		defer cancel()

		resp, err := newClient(cmd).SunsetWorker(ctx, args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("Worker %s sunset\n", args[0])
		fmt.Printf("  Status: %s\n", resp.Status)
		fmt.Printf("  Patterns Exported: %v\n", resp.PatternsExported)
		fmt.Printf("  Patches Applied: %d\n", len(resp.PatchesApplied))
		return nil
	},
}

var workerDriftCmd = &cobra.Command{
	Use:   "drift <dsn>",
	Short: "Report a worker's drift score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, _ := cmd.Flags().GetFloat64("score")

		ctx, cancel := cmdContext()
		defer cancel()

		w, err := newClient(cmd).ReportWorkerDrift(ctx, args[0], score)
		if err != nil {
			return err
		}
		fmt.Printf("Worker %s\n", w.DSN)
		fmt.Printf("  Drift Score: %.2f\n", w.DriftScore)
		fmt.Printf("  Lifecycle State: %s\n", w.LifecycleState)
		return nil
	},
}

var predicateCmd = &cobra.Command{
	Use:   "predicate",
	Short: "Broadcast approved predicates to the fleet",
}

var predicateBroadcastCmd = &cobra.Command{
	Use:   "broadcast <pattern>",
	Short: "Submit a predicate for fleet-wide broadcast",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		response, _ := cmd.Flags().GetString("response")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		approvedBy, _ := cmd.Flags().GetString("approved-by")

		ctx, cancel := cmdContext()
		defer cancel()

		resp, err := newClient(cmd).BroadcastPredicate(ctx, &types.Predicate{
			Pattern:    args[0],
			Response:   response,
			Confidence: confidence,
			ApprovedBy: approvedBy,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Predicate %s: %s\n", resp.Attempt.PredicateID, resp.Status)
		fmt.Printf("  Recipients: %d\n", len(resp.Attempt.Recipients))
		return nil
	},
}

var predicateRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-dispatch a predicate to unacked recipients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		attempt, err := newClient(cmd).RetryPredicate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Predicate %s re-dispatched (attempt %d)\n", attempt.PredicateID, attempt.Attempts)
		fmt.Printf("  Unacked: %d\n", len(attempt.Unacked()))
		return nil
	},
}

var predicateAttemptCmd = &cobra.Command{
	Use:   "attempt <id>",
	Short: "Show the broadcast attempt record for a predicate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		attempt, err := newClient(cmd).GetAttempt(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Predicate: %s\n", attempt.PredicateID)
		fmt.Printf("  Attempts: %d\n", attempt.Attempts)
		fmt.Printf("  Recipients: %d\n", len(attempt.Recipients))
		fmt.Printf("  Acked: %d\n", len(attempt.Acked))
		for _, dsn := range attempt.Unacked() {
			fmt.Printf("  Unacked: %s\n", dsn)
		}
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show the alert log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		alerts, err := newClient(cmd).Alerts(ctx)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts")
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("%s  [%s]  module=%s  %s\n",
				a.RaisedAt.Format(time.RFC3339), a.Severity, a.ModuleID, a.Reason)
		}
		return nil
	},
}

func init() {
	moduleRegisterCmd.Flags().String("url", "", "base URL of the module")
	moduleRegisterCmd.Flags().String("health-endpoint", "/health", "health check endpoint")
	moduleRegisterCmd.Flags().String("sync-endpoint", "/sync", "sync pulse endpoint")
	moduleRegisterCmd.Flags().Bool("critical", false, "mark the module critical")
	moduleRegisterCmd.Flags().Duration("expected-response-time", 200*time.Millisecond, "expected health check response time")
	moduleRegisterCmd.Flags().StringSlice("depends-on", nil, "module IDs this module depends on")
	moduleRegisterCmd.MarkFlagRequired("url")

	moduleIsolateCmd.Flags().String("reason", "manual isolation", "reason recorded with the isolation")

	moduleCmd.AddCommand(moduleRegisterCmd)
	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleGetCmd)
	moduleCmd.AddCommand(moduleCheckCmd)
	moduleCmd.AddCommand(moduleIsolateCmd)
	moduleCmd.AddCommand(moduleRecoverCmd)
	moduleCmd.AddCommand(moduleDeregisterCmd)

	workerRegisterCmd.Flags().String("template", "", "worker template ID")
	workerRegisterCmd.Flags().String("url", "", "base URL of the worker")
	workerRegisterCmd.MarkFlagRequired("template")
	workerRegisterCmd.MarkFlagRequired("url")

	workerSunsetCmd.Flags().String("reason", "manual sunset", "reason recorded with the sunset")

	workerDriftCmd.Flags().Float64("score", 0.0, "drift score in [0, 1]")
	workerDriftCmd.MarkFlagRequired("score")

	workerCmd.AddCommand(workerRegisterCmd)
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerDriftCmd)
	workerCmd.AddCommand(workerSunsetCmd)

	predicateBroadcastCmd.Flags().String("response", "", "response pattern the predicate installs")
	predicateBroadcastCmd.Flags().Float64("confidence", 0.0, "confidence score from review")
	predicateBroadcastCmd.Flags().String("approved-by", "", "reviewer that approved the predicate")
	predicateBroadcastCmd.MarkFlagRequired("approved-by")

	predicateCmd.AddCommand(predicateBroadcastCmd)
	predicateCmd.AddCommand(predicateRetryCmd)
	predicateCmd.AddCommand(predicateAttemptCmd)
}

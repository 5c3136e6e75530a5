// ABOUTME: The run command wires the runtime from config and drives the demo order
// ABOUTME: Prints the caller's report and the telemetry totals when done

package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aevatarAI/aevatar-station-sub002/internal/agent"
	"github.com/aevatarAI/aevatar-station-sub002/internal/dedupe"
	"github.com/aevatarAI/aevatar-station-sub002/internal/demo"
	"github.com/aevatarAI/aevatar-station-sub002/internal/runtime"
	"github.com/aevatarAI/aevatar-station-sub002/internal/store"
	"github.com/aevatarAI/aevatar-station-sub002/internal/telemetry"
	"github.com/aevatarAI/aevatar-station-sub002/internal/transport"
)

func runDemo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "Config file (YAML, or TOML with a .toml extension)")
	key := fs.String("key", "main", "Coordinator key")
	tasks := fs.String("tasks", "parse,index,fail-publish", "Comma separated tasks, one worker each; tasks starting with fail are refused")
	prefix := fs.String("prefix", "done:", "Prefix workers add to each result")
	timeout := fs.Duration("timeout", 10*time.Second, "How long to wait for the order")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, nil)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", *configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	fmt.Println()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer st.Close()

	mem := transport.NewMemory(logger, cfg.Transport.BufferSize)
	mem.SetSendTimeout(cfg.Transport.SendTimeout)
	defer mem.Close()

	opts := agent.Options{
		Transport:     mem,
		Log:           st,
		Snapshots:     st,
		SnapshotEvery: cfg.Agents.SnapshotEvery,
		Logger:        logger,
	}

	if cfg.Dedupe.Enabled {
		window := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize, cfg.Dedupe.TTL)
		defer window.Close()
		opts.Dedupe = window
	}

	var provider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		provider = telemetry.NewProvider()
		defer provider.Shutdown(context.WithoutCancel(ctx))
		instruments, err := telemetry.New(provider.MeterProvider, nil)
		if err != nil {
			return fmt.Errorf("creating telemetry: %w", err)
		}
		opts.Telemetry = instruments
	}

	host := runtime.NewHost(opts)
	defer func() {
		if err := host.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("shutting down agents", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	logger.Info("starting demo order",
		"service", cfg.Telemetry.ServiceName,
		"key", *key,
		"tasks", *tasks,
	)
	report, err := demo.Run(runCtx, host, demo.Scenario{
		Key:    *key,
		Tasks:  splitTasks(*tasks),
		Prefix: *prefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("running demo: %w", err)
	}
	host.Quiesce()

	fmt.Println()
	green.Print("    ✓ ")
	fmt.Printf("Order %s\n", report.OrderID)
	fmt.Printf("      completed: %s\n", strings.Join(report.Status.Completed, ", "))
	if len(report.Status.Failed) > 0 {
		fmt.Printf("      failed:    %s\n", strings.Join(report.Status.Failed, ", "))
	}
	fmt.Printf("      version:   %d\n", report.Status.Version)
	for _, fault := range report.Faults {
		red.Print("    ✗ ")
		fmt.Printf("%s %s: %s\n", fault.Agent, fault.Handler, fault.Cause)
	}
	fmt.Printf("      audited:   %d orders, %d tasks\n", report.Audit.Orders, report.Audit.Tasks)

	if provider != nil {
		if err := printTotals(ctx, provider); err != nil {
			logger.Warn("reading telemetry totals", "error", err)
		}
	}
	return nil
}

func splitTasks(s string) []string {
	var tasks []string
	for _, task := range strings.Split(s, ",") {
		if task = strings.TrimSpace(task); task != "" {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

func printTotals(ctx context.Context, provider *telemetry.Provider) error {
	totals, err := provider.Totals(ctx)
	if err != nil {
		return err
	}
	gray := color.New(color.FgHiBlack)
	fmt.Println()
	for _, name := range slices.Sorted(maps.Keys(totals)) {
		gray.Printf("    %-28s", name)
		fmt.Printf(" %d\n", totals[name])
	}
	return nil
}

// ABOUTME: The agents and events commands read the persisted event log
// ABOUTME: Event bodies are printed in CBOR diagnostic notation

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/codec"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/store"
)

func openStore(configPath string) (*store.SQLiteStore, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("event log %s: %w", cfg.Database.Path, err)
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return st, nil
}

func runAgents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agents", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "Config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	agents, err := st.Agents(ctx)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents with persisted events")
		return nil
	}
	for _, id := range agents {
		fmt.Println(id)
	}
	return nil
}

func runEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "Config file")
	agentID := fs.String("agent", "", "Agent address, e.g. coordinator/main")
	correlation := fs.String("correlation", "", "Correlation id shared by the events")
	limit := fs.Int("limit", 100, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if (*agentID == "") == (*correlation == "") {
		return errors.New("exactly one of --agent or --correlation is required")
	}

	st, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var records []store.Record
	if *agentID != "" {
		addr, err := envelope.ParseAddress(*agentID)
		if err != nil {
			return fmt.Errorf("parsing --agent: %w", err)
		}
		records, err = st.Records(ctx, addr.String(), *limit)
		if err != nil {
			return fmt.Errorf("reading events of %s: %w", addr, err)
		}
	} else {
		id, err := uuid.Parse(*correlation)
		if err != nil {
			return fmt.Errorf("parsing --correlation: %w", err)
		}
		records, err = st.ByCorrelation(ctx, id, *limit)
		if err != nil {
			return fmt.Errorf("reading correlation %s: %w", id, err)
		}
	}

	printRecords(os.Stdout, records)
	return nil
}

func printRecords(w io.Writer, records []store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No events")
		return
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, rec := range records {
		gray.Fprintf(w, "%s ", rec.RecordedAt.Format("2006-01-02 15:04:05.000"))
		fmt.Fprintf(w, "%s v%d ", rec.AgentID, rec.Version)
		cyan.Fprint(w, rec.EventType)
		gray.Fprintf(w, " correlation=%s\n", rec.CorrelationID)

		body, err := codec.Diagnose(rec.Data)
		if err != nil {
			body = fmt.Sprintf("<%d bytes: %v>", len(rec.Data), err)
		}
		fmt.Fprintf(w, "    %s\n", body)
	}
}

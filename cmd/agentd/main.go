// ABOUTME: Entry point for agentd, the agent messaging runtime demo
// ABOUTME: Runs the task tree demo and inspects the persisted event log

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aevatarAI/aevatar-station-sub002/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                         _      _
  __ _  __ _  ___ _ __ | |_ __| |
 / _' |/ _' |/ _ \ '_ \| __/ _' |
| (_| | (_| |  __/ | | | || (_| |
 \__,_|\__, |\___|_| |_|\__\__,_|
       |___/
`

// getConfigPath returns the path to the agentd config file.
// Priority: AGENTD_CONFIG env var > XDG_CONFIG_HOME/agentd/agentd.yaml > ~/.config/agentd/agentd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agentd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentd", "agentd.yaml")
}

// loadConfig loads the config file, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func usage() {
	fmt.Println("Usage: agentd <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run      Run the task tree demo against the configured event log")
	fmt.Println("  agents   List agents with persisted events")
	fmt.Println("  events   Print persisted events of an agent or a correlation")
	fmt.Println("  version  Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runDemo(ctx, os.Args[2:])
	case "agents":
		err = runAgents(ctx, os.Args[2:])
	case "events":
		err = runEvents(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

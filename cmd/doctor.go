package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/turnpikehq/turnpike/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("turnpike doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Storage:")
	fmt.Printf("    %-10s %s\n", "Backend:", cfg.Storage.Backend)
	st, err := openQueueStore(cfg.Storage)
	if err != nil {
		fmt.Printf("    %-10s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		state, loadErr := st.Load()
		if loadErr != nil {
			fmt.Printf("    %-10s LOAD FAILED (%s)\n", "Status:", loadErr)
		} else {
			fmt.Printf("    %-10s OK (version %d, %d pending, %d processed)\n",
				"Status:", state.Version, len(state.Pending), len(state.Processed))
		}
		st.Close()
	}

	fmt.Println()
	fmt.Println("  Agents:")
	fmt.Printf("    %-10s %s\n", "Default:", cfg.ResolveDefaultAgentID())
	for _, id := range cfg.AgentIDs() {
		fmt.Printf("    - %s\n", id)
	}

	fmt.Println()
	fmt.Printf("  Routing rules: %d\n", len(cfg.Routing.Rules))
	fmt.Printf("  Cron jobs:     %d\n", len(cfg.Cron))
	fmt.Printf("  Telemetry:     enabled=%v endpoint=%s\n", cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
}

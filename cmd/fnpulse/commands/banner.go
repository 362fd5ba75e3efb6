package commands

import (
	"fmt"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(verbosity int, cfg *am.Config, dbPath string, autoscaling bool) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║     ███████ ███   ██  ██████  ██   ██ ██          ║\n")
	fmt.Printf("   ║     ██      ████  ██  ██   ██ ██   ██ ██          ║\n")
	fmt.Printf("   ║     █████   ██ ██ ██  ██████  ██   ██ ██          ║\n")
	fmt.Printf("   ║     ██      ██  ████  ██      ██   ██ ██          ║\n")
	fmt.Printf("   ║     ██      ██   ███  ██       █████  ███████     ║\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   %sSubmit%s  %sQueue%s  %sRun%s  %s%s Pulse%s                     ║\n",
		blue, reset+cyan+bold, yellow, reset+cyan+bold, green, reset+cyan+bold, magenta, logger.SymPulse, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ fnpulse Info ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:    %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:      %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity:  %s\n", green, reset, logger.LevelName(verbosity))
	fmt.Printf("%s│%s Listening:  http://%s\n", green, reset, cfg.Server.Addr())
	fmt.Printf("%s│%s Database:   %s\n", green, reset, dbPath)
	fmt.Printf("%s│%s Functions:  %s\n", green, reset, cfg.Functions.Dir)
	if autoscaling {
		fmt.Printf("%s│%s Workers:    %d..%d (one per %d queued jobs)\n", green, reset,
			cfg.Autoscaler.MinWorkers, cfg.Autoscaler.MaxWorkers, cfg.Autoscaler.JobsPerWorker)
	} else {
		fmt.Printf("%s│%s Workers:    autoscaling disabled\n", green, reset)
	}
	if cfg.Log.Dir != "" {
		fmt.Printf("%s│%s Logs:       %s/server.log, %s/worker.log\n", green, reset, cfg.Log.Dir, cfg.Log.Dir)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ POST /submit to run a function%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}

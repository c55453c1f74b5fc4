package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fandomassenger/internal/app"
	"fandomassenger/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath string
		daemon  bool
		dryRun  bool
		jsonOut bool
	)
	flag.StringVar(&cfgPath, "config", "./fandomassenger.yaml", "path to config (yaml or json)")
	flag.BoolVar(&daemon, "daemon", false, "run on the configured schedule until stopped")
	flag.BoolVar(&dryRun, "dry-run", false, "render and report without posting")
	flag.BoolVar(&jsonOut, "json", false, "print the report as JSON")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, DryRun: dryRun})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return report.ExitFatal
	}
	defer a.Close()

	if daemon {
		if err := a.Serve(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return report.ExitFatal
		}
		return report.ExitOK
	}

	rep, runErr := a.RunOnce(ctx)
	write := report.WriteText
	if jsonOut {
		write = report.WriteJSON
	}
	if err := write(os.Stdout, rep); err != nil {
		fmt.Fprintln(os.Stderr, "write report:", err)
	}
	return report.ExitCode(rep, runErr)
}

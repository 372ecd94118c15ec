package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/himecorleone/course-registration-system/internal/app"
)

func main() {
	var (
		cfgPath    string
		recordPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.StringVar(&recordPath, "account", "", "run the standalone scheduler for this record file only")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if recordPath != "" {
		if err := app.RunStandalone(ctx, cfgPath, recordPath); err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

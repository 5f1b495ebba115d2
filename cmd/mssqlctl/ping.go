package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func handlePing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	dsn := dsnFlag(fs)
	timeout := fs.Duration("timeout", 10*time.Second, "ping timeout")
	fs.Parse(args)

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := a.Ping(ctx); err != nil {
		printError(fmt.Sprintf("ping: %v", err))
		os.Exit(1)
	}
	printSuccess("attachment is alive")
}

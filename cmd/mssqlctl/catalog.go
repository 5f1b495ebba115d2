package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func handlePreloadCatalog(args []string) {
	fs := flag.NewFlagSet("preload-catalog", flag.ExitOnError)
	dsn := dsnFlag(fs)
	schema := fs.String("schema", "", "limit preload to one schema (default: whole catalog)")
	timeout := fs.Duration("timeout", 60*time.Second, "preload timeout")
	fs.Parse(args)

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := newDiagManager(a).PreloadCatalog(ctx, "", *schema)
	if err != nil {
		printError(fmt.Sprintf("preload-catalog: %v", err))
		os.Exit(1)
	}
	printSuccess(summary)
}

func handleRefreshCache(args []string) {
	fs := flag.NewFlagSet("refresh-cache", flag.ExitOnError)
	dsn := dsnFlag(fs)
	fs.Parse(args)

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	if _, err := newDiagManager(a).RefreshCache(""); err != nil {
		printError(fmt.Sprintf("refresh-cache: %v", err))
		os.Exit(1)
	}
	printSuccess("catalog cache invalidated")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func handleExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	dsn := dsnFlag(fs)
	sql := fs.String("sql", "", "SQL statement to execute")
	timeout := fs.Duration("timeout", 30*time.Second, "execution timeout")
	fs.Parse(args)

	if *sql == "" {
		printError("--sql is required")
		os.Exit(1)
	}

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	affected, err := newDiagManager(a).Exec(ctx, "", *sql)
	if err != nil {
		printError(fmt.Sprintf("exec: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("%d row(s) affected", affected))
}

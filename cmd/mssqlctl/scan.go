package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

func handleScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dsn := dsnFlag(fs)
	sql := fs.String("sql", "", "SQL query to run")
	timeout := fs.Duration("timeout", 30*time.Second, "scan timeout")
	fs.Parse(args)

	if *sql == "" {
		printError("--sql is required")
		os.Exit(1)
	}

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := newDiagManager(a).Scan(ctx, "", *sql)
	if err != nil {
		printError(fmt.Sprintf("scan: %v", err))
		os.Exit(1)
	}
	defer result.Close()

	var headers []string
	var rows [][]string
	for {
		row, ok, err := result.Next()
		if err != nil {
			printError(fmt.Sprintf("scan: %v", err))
			os.Exit(1)
		}
		if !ok {
			break
		}
		if headers == nil {
			for _, c := range result.Columns() {
				headers = append(headers, c.Name)
			}
		}
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		rows = append(rows, cells)
	}

	if headers == nil {
		printSuccess("no rows")
		return
	}
	printTable(headers, rows)
}

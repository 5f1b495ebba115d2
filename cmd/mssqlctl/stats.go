package main

import (
	"flag"
	"fmt"
	"os"
)

func handlePoolStats(args []string) {
	fs := flag.NewFlagSet("pool-stats", flag.ExitOnError)
	dsn := dsnFlag(fs)
	fs.Parse(args)

	a := openAttachmentOrExit(*dsn)
	defer a.Close()

	stats, err := newDiagManager(a).PoolStats("")
	if err != nil {
		printError(fmt.Sprintf("pool-stats: %v", err))
		os.Exit(1)
	}

	printHeader("Pool Stats")
	printTable(
		[]string{"active", "idle", "total", "hits", "misses", "waits", "timeouts"},
		[][]string{{
			fmt.Sprint(stats.Active),
			fmt.Sprint(stats.Idle),
			fmt.Sprint(stats.Total),
			fmt.Sprint(stats.Hits),
			fmt.Sprint(stats.Misses),
			fmt.Sprint(stats.Waits),
			fmt.Sprint(stats.Timeouts),
		}},
	)
}

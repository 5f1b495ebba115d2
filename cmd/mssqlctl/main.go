// Command mssqlctl is a one-shot CLI over this module's diagnostic entry
// points: ping, exec, scan, pool-stats, preload-catalog, and refresh-cache,
// each opening one attachment, running one operation, and closing it.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "ping":
		handlePing(args)
	case "exec":
		handleExec(args)
	case "scan":
		handleScan(args)
	case "pool-stats":
		handlePoolStats(args)
	case "preload-catalog":
		handlePreloadCatalog(args)
	case "refresh-cache":
		handleRefreshCache(args)
	case "version", "-v", "--version":
		fmt.Printf("mssqlctl v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		printError(fmt.Sprintf("unknown command: %s", command))
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(colorBold(colorCyan("mssqlctl")) + " - diagnostics for a mssql-extension attachment")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mssqlctl " + colorYellow("<command>") + " [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  " + colorGreen("ping") + "             Open the attachment and check liveness")
	fmt.Println("  " + colorGreen("exec") + "             Run a SQL statement, print affected rows")
	fmt.Println("  " + colorGreen("scan") + "             Run a SQL query, print the result set")
	fmt.Println("  " + colorGreen("pool-stats") + "       Print live connection pool counters")
	fmt.Println("  " + colorGreen("preload-catalog") + "  Bulk-populate the catalog cache")
	fmt.Println("  " + colorGreen("refresh-cache") + "    Invalidate the whole catalog cache")
	fmt.Println("  " + colorGreen("version") + "          Show version information")
	fmt.Println("  " + colorGreen("help") + "             Show this help message")
	fmt.Println()
	fmt.Println("Every command accepts --dsn, defaulting to the MSSQLCTL_DSN environment variable.")
}

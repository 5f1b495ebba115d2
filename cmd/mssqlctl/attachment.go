package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hugr-lab/mssql-extension/attach"
	"github.com/hugr-lab/mssql-extension/diag"
)

// dsnFlag registers the --dsn flag every subcommand shares, defaulting to
// MSSQLCTL_DSN, grounded on the teacher's --conn/SYNDRDB_CONN convention.
func dsnFlag(fs *flag.FlagSet) *string {
	return fs.String("dsn", os.Getenv("MSSQLCTL_DSN"), "attachment connection string (or MSSQLCTL_DSN)")
}

func openAttachmentOrExit(dsn string) *attach.Attachment {
	if dsn == "" {
		printError("a --dsn or MSSQLCTL_DSN is required")
		os.Exit(1)
	}
	a, err := attach.Open(dsn)
	if err != nil {
		printError(fmt.Sprintf("open: %v", err))
		os.Exit(1)
	}
	return a
}

// singleAttachmentRegistry adapts one already-open attachment to
// diag.Registry for this CLI's one-shot, single-attachment invocations.
type singleAttachmentRegistry struct {
	a *attach.Attachment
}

func (r singleAttachmentRegistry) Lookup(name string) (*attach.Attachment, error) { return r.a, nil }
func (r singleAttachmentRegistry) Default() (*attach.Attachment, error)           { return r.a, nil }

func newDiagManager(a *attach.Attachment) *diag.Manager {
	return diag.NewManager(nil, singleAttachmentRegistry{a: a})
}

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/aurora/pkg/federation"
)

func runSyncCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr, token := clientFlags(fs)
	asJSON := fs.Bool("json", false, "print the raw report")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var report federation.Report
	status, problem, err := newClient(*addr, *token).do(http.MethodPost, "/federation/sync", nil, &report)
	if err != nil {
		return fail(stderr, err)
	}
	if problem != nil {
		return failProblem(stderr, problem)
	}
	if status == http.StatusServiceUnavailable {
		return fail(stderr, fmt.Errorf("sync is not configured on this node"))
	}
	if status != http.StatusOK {
		return fail(stderr, fmt.Errorf("node answered %d", status))
	}

	if *asJSON {
		if err := printJSON(stdout, report); err != nil {
			return fail(stderr, err)
		}
		return exitOK
	}

	code := exitOK
	for _, pr := range report.Peers {
		if pr.Err != "" {
			fmt.Fprintf(stdout, "%s%-20s%s %sfailed:%s %s\n",
				ColorBold, pr.Peer, ColorReset, ColorRed, ColorReset, pr.Err)
			code = exitFail
			continue
		}
		fmt.Fprintf(stdout, "%s%-20s%s %d remote, %d missing, %d inserted, %d resolved, %d failed\n",
			ColorBold, pr.Peer, ColorReset, pr.RemoteIDs, pr.Missing, pr.Inserted, pr.Resolved, pr.Failed)
		if pr.Failed > 0 {
			code = exitFail
		}
	}
	if len(report.Peers) == 0 {
		fmt.Fprintln(stdout, "no peers configured")
	}
	return code
}

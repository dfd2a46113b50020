package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/router"
)

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr, token := clientFlags(fs)
	asJSON := fs.Bool("json", false, "print the raw response")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var rep router.StatusReport
	status, problem, err := newClient(*addr, *token).do(http.MethodGet, "/status", nil, &rep)
	if err != nil {
		return fail(stderr, err)
	}
	if problem != nil {
		return failProblem(stderr, problem)
	}
	if status != http.StatusOK {
		return fail(stderr, fmt.Errorf("node answered %d", status))
	}

	if *asJSON {
		if err := printJSON(stdout, rep); err != nil {
			return fail(stderr, err)
		}
		return exitOK
	}

	uptime := time.Duration(rep.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(stdout, "%suptime%s      %s\n", ColorBold, ColorReset, uptime)
	fmt.Fprintf(stdout, "%sdecisions%s   %d (feedback %d, policy rejects %d, no viable %d)\n",
		ColorBold, ColorReset, rep.Decisions, rep.Feedbacks, rep.PolicyRejects, rep.NoViable)
	fmt.Fprintf(stdout, "%straces%s      %d stored\n", ColorBold, ColorReset, rep.StoredTraces)
	fmt.Fprintf(stdout, "%sstrategist%s  epsilon %.3f, %d states, %d entries, avg reward %+.3f over last 100\n",
		ColorBold, ColorReset, rep.Strategist.Epsilon, rep.Strategist.States,
		rep.Strategist.Entries, rep.Strategist.AvgReward100)
	fmt.Fprintf(stdout, "%sauditor%s     approved %d, flagged %d, rejected %d\n",
		ColorBold, ColorReset, rep.Auditor.Approved, rep.Auditor.Flagged, rep.Auditor.Rejected)
	fmt.Fprintf(stdout, "%sfleet%s       %d providers (%d active), %.1f GPU-hours remaining\n",
		ColorBold, ColorReset, rep.Fleet.Providers, rep.Fleet.Active, rep.Fleet.RemainingHours)
	if rep.Signal != nil {
		fmt.Fprintf(stdout, "%ssignal%s      cache hit rate %.2f, breaker %s\n",
			ColorBold, ColorReset, rep.Signal.HitRate, rep.Signal.Breaker)
	}
	return exitOK
}

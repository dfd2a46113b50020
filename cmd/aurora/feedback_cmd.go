package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

func runFeedbackCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr, token := clientFlags(fs)

	decision := fs.String("decision", "", "decision id (required)")
	success := fs.Bool("success", false, "whether the workload ran to completion")
	cost := fs.Float64("cost", 0, "observed cost")
	latency := fs.Float64("latency", 0, "observed latency in ms")
	reputation := fs.Float64("reputation", 0, "provider reputation observed after the run")
	reason := fs.String("error", "", "failure reason, when not successful")
	asJSON := fs.Bool("json", false, "print the raw response")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *decision == "" {
		fmt.Fprintln(stderr, "feedback requires --decision")
		fs.Usage()
		return exitUsage
	}

	req := router.FeedbackRequest{
		DecisionID: *decision,
		Outcome: contracts.Outcome{
			Success:         *success,
			ActualCost:      *cost,
			ActualLatencyMS: *latency,
			ErrorReason:     *reason,
		},
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "reputation" {
			req.Outcome.ActualReputation = reputation
		}
	})

	var resp router.FeedbackResponse
	status, problem, err := newClient(*addr, *token).do(http.MethodPost, "/feedback", req, &resp)
	if err != nil {
		return fail(stderr, err)
	}
	if problem != nil {
		return failProblem(stderr, problem)
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return fail(stderr, fmt.Errorf("node answered %d", status))
	}

	if *asJSON {
		if err := printJSON(stdout, resp); err != nil {
			return fail(stderr, err)
		}
		return exitOK
	}

	if resp.Replayed {
		fmt.Fprintf(stdout, "%sreplayed:%s this outcome was already recorded; showing the stored result\n",
			ColorYellow, ColorReset)
	}
	fmt.Fprintf(stdout, "decision  %s\n", resp.DecisionID)
	fmt.Fprintf(stdout, "provider  %s\n", resp.Provider)
	fmt.Fprintf(stdout, "reward    %s%+.3f%s\n", ColorBold, resp.Reward, ColorReset)
	fmt.Fprintf(stdout, "          %s\n", resp.Explanation.String())
	return exitOK
}

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr, token := clientFlags(fs)

	tenant := fs.String("tenant", "", "tenant id (required)")
	workload := fs.String("workload", "llm_inference", "workload class")
	accelerator := fs.String("accelerator", "a100", "accelerator class")
	region := fs.String("region", "", "target region (required)")
	hours := fs.Float64("hours", 1, "requested GPU hours")
	maxPrice := fs.Float64("max-price", 0, "price ceiling per GPU hour")
	maxLatency := fs.Float64("max-latency", 0, "latency ceiling in ms")
	minReputation := fs.Float64("min-reputation", 0, "provider reputation floor")
	candidates := fs.String("candidates", "", "comma-separated provider ids (default: whole fleet)")
	sig := fs.Float64("signal", 0, "override the adaptive signal for this decision")
	reputation := fs.Int("reputation", 0, "caller's tenant reputation score")
	asJSON := fs.Bool("json", false, "print the raw response")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *tenant == "" || *region == "" {
		fmt.Fprintln(stderr, "decide requires --tenant and --region")
		fs.Usage()
		return exitUsage
	}

	req := router.DecideRequest{
		Tenant: *tenant,
		Context: contracts.WorkloadContext{
			Workload:      contracts.WorkloadClass(*workload),
			Accelerator:   contracts.AcceleratorClass(*accelerator),
			Region:        *region,
			ResourceHours: *hours,
			Constraints: contracts.Constraints{
				MaxPrice:      *maxPrice,
				MaxLatencyMS:  *maxLatency,
				MinReputation: *minReputation,
			},
		},
		Candidates:       splitList(*candidates),
		TenantReputation: *reputation,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "signal" {
			req.Signal = sig
		}
	})

	var resp router.DecideResponse
	status, problem, err := newClient(*addr, *token).do(http.MethodPost, "/decisions", req, &resp)
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
		if err := printJSON(stdout, resp); err != nil {
			return fail(stderr, err)
		}
		return exitOK
	}

	fmt.Fprintf(stdout, "decision  %s%s%s\n", ColorBold, resp.DecisionID, ColorReset)
	fmt.Fprintf(stdout, "provider  %s%s%s (%s, q=%.3f, epsilon=%.3f)\n",
		ColorGreen, resp.Provider, ColorReset,
		resp.Metadata.Mode, resp.Metadata.QValue, resp.Metadata.Epsilon)
	if resp.Dispatch.Accepted {
		fmt.Fprintf(stdout, "dispatch  accepted handle=%s price=%.2f latency=%.0fms\n",
			resp.Dispatch.Handle, resp.Dispatch.QuotedPrice, resp.Dispatch.LatencyMS)
	} else {
		fmt.Fprintf(stdout, "dispatch  %srejected%s (%s)\n", ColorYellow, ColorReset, resp.Dispatch.Reason)
	}
	return exitOK
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GiGurra/boa/pkg/boa"

	"budget/internal/app"
	"budget/internal/cli"
	"budget/internal/core"
	"budget/internal/services"
)

type Params struct {
	File   string `descr:"Path to the semicolon-delimited export file" positional:"true"`
	Import bool   `descr:"Categorize, score and store the selected months" optional:"true"`
	Months string `descr:"Comma-separated months to import (YYYY-MM); all months when empty" optional:"true"`
	Policy string `descr:"How stored months are reconciled" alts:"merge,replace" optional:"true"`
}

func main() {
	boa.NewCmdT[Params]("budget-cli").
		WithShort("Preview and import a bank export into the monthly budget").
		WithLong("Parses the export, groups it by month and prints a preview. With --import the selected months are categorized, scored and stored in SQLITE_DB_PATH.").
		WithRunFunc(func(params *Params) {
			if err := run(params); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}).
		Run()
}

func run(params *Params) error {
	// Logs go to stderr so tables stay readable.
	cfg, logger := cli.Bootstrap(os.Stderr)

	data, err := os.ReadFile(params.File)
	if err != nil {
		return err
	}

	req, err := importRequest(params.Months, params.Policy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Open(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	summary, err := pipeline.Uploads.Stage(ctx, data)
	if err != nil {
		return err
	}
	renderPreview(os.Stdout, summary)

	if !params.Import {
		return nil
	}

	report, err := pipeline.Uploads.Categorize(ctx, summary.ID, req)
	if err != nil {
		return err
	}
	fmt.Println()
	renderReport(os.Stdout, report)
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d of %d months failed", n, len(report.Months))
	}
	return nil
}

// importRequest builds the request from the --months and --policy flags.
func importRequest(months, policy string) (services.ImportRequest, error) {
	req := services.ImportRequest{Policy: core.PolicyMerge}
	if strings.TrimSpace(policy) != "" {
		p, err := core.ParseImportPolicy(policy)
		if err != nil {
			return services.ImportRequest{}, err
		}
		req.Policy = p
	}

	for _, m := range strings.Split(months, ",") {
		if strings.TrimSpace(m) == "" {
			continue
		}
		key, err := core.ParseMonthKey(m)
		if err != nil {
			return services.ImportRequest{}, err
		}
		req.Months = append(req.Months, key)
	}
	req.All = len(req.Months) == 0
	return req, nil
}

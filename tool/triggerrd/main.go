/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command triggerrd runs the parametric flight delay insurance daemon and a
// couple of one-shot operator commands against the same configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/config"
	"github.com/e3o8o/triggerr-sub002/lib/policy"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/service"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string

	flightNumber   string
	flightDate     string
	coverage       string
	coverageAmount string
	airports       []string

	policyID string
}

func run(args []string, out io.Writer) error {
	var f cliFlags

	app := kingpin.New("triggerrd", "Parametric flight delay insurance daemon.")
	app.Flag("config", "Path to the YAML configuration file.").
		Short('c').Required().StringVar(&f.configPath)

	start := app.Command("start", "Start the daemon and the periodic sweeps.")

	quoteCmd := app.Command("quote", "Request a one-shot quote set.")
	quoteCmd.Flag("flight", "Flight number, e.g. BT318.").Required().StringVar(&f.flightNumber)
	quoteCmd.Flag("date", "Departure date in YYYY-MM-DD, UTC.").Required().StringVar(&f.flightDate)
	quoteCmd.Flag("coverage", "Coverage type; empty quotes every product.").StringVar(&f.coverage)
	quoteCmd.Flag("amount", "Coverage amount as a decimal, e.g. 500.00.").Required().StringVar(&f.coverageAmount)
	quoteCmd.Flag("airport", "Airport to price weather risk for; repeatable.").StringsVar(&f.airports)

	policyCmd := app.Command("policy", "Policy operations.")
	policyStatus := policyCmd.Command("status", "Show a policy and its event log.")
	policyStatus.Flag("id", "Policy id.").Required().StringVar(&f.policyID)

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	svc, err := newService(f.configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer svc.Close()

	switch command {
	case start.FullCommand():
		return trace.Wrap(runStart(svc))
	case quoteCmd.FullCommand():
		return trace.Wrap(runQuote(context.Background(), svc, f, out))
	case policyStatus.FullCommand():
		return trace.Wrap(runPolicyStatus(context.Background(), svc, f.policyID, out))
	}
	return trace.BadParameter("unknown command %q", command)
}

func newService(configPath string) (*service.Service, error) {
	fc, err := config.ReadFromFile(configPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var cfg service.Config
	if err := config.ApplyFileConfig(fc, &cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	svc, err := service.New(cfg)
	return svc, trace.Wrap(err)
}

func runStart(svc *service.Service) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return trace.Wrap(err)
	}
	<-ctx.Done()
	return nil
}

func runQuote(ctx context.Context, svc *service.Service, f cliFlags, out io.Writer) error {
	date, err := time.Parse(time.DateOnly, f.flightDate)
	if err != nil {
		return trace.BadParameter("invalid date %q, expected YYYY-MM-DD", f.flightDate)
	}
	amount := svc.Amounts.ToUnits(f.coverageAmount)
	if amount <= 0 {
		return trace.BadParameter("invalid coverage amount %q", f.coverageAmount)
	}

	set, err := svc.Quotes.GenerateQuote(ctx, quote.Request{
		FlightNumber:   f.flightNumber,
		FlightDate:     date.UTC(),
		Coverage:       quote.CoverageType(f.coverage),
		CoverageAmount: amount,
		Airports:       f.airports,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(printJSON(out, set))
}

// policyStatusView is the `policy status` output document.
type policyStatusView struct {
	Policy *policy.Policy `json:"policy"`
	Events []policy.Event `json:"events"`
}

func runPolicyStatus(ctx context.Context, svc *service.Service, policyID string, out io.Writer) error {
	p, err := svc.Store().GetPolicy(ctx, policyID)
	if err != nil {
		return trace.Wrap(err)
	}
	events, err := svc.Store().ListEvents(ctx, policyID)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(printJSON(out, policyStatusView{Policy: p, Events: events}))
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return trace.Wrap(err)
}

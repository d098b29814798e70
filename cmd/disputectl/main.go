package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/config"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to the YAML configuration file." type:"path" env:"DISPUTE_CONFIG"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)." env:"DISPUTE_LOG_LEVEL"`

	out io.Writer
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API and maintenance jobs."`
	Start   StartCmd   `cmd:"" help:"Start a dispute workflow and run it until review."`
	Status  StatusCmd  `cmd:"" help:"Show a workflow run."`
	List    ListCmd    `cmd:"" help:"List workflow runs for a case."`
	Pending PendingCmd `cmd:"" help:"List runs waiting for a review decision."`
	Decide  DecideCmd  `cmd:"" help:"Record a review decision and resume the run."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a run from its last persisted step."`
	Costs   CostsCmd   `cmd:"" help:"Summarise generation costs for a case."`
}

func (g *Globals) load() (config.Config, error) {
	cfg := config.Defaults()
	if strings.TrimSpace(g.Config) != "" {
		loaded, err := config.Load(g.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if lvl := strings.ToLower(strings.TrimSpace(g.LogLevel)); lvl != "" {
		cfg.Log.Level = lvl
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg.Log, os.Stderr))
}

func (g *Globals) print(v any) error {
	out := g.out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ServeCmd struct {
	Addr string `help:"Listen address, overrides server.addr."`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	handles, err := a.schedule()
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	for _, h := range handles {
		a.logger.Info("scheduled %s", h.Name())
	}

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening on %s (store %s)", addr, a.cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type StartCmd struct {
	Case     string `required:"" help:"Case identifier."`
	Customer string `help:"Customer identifier used for billing and payment lookups."`
}

func (c *StartCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runID, err := a.engine.Start(ctx, c.Case, c.Customer)
	if err != nil {
		return err
	}
	run, err := a.engine.Get(ctx, runID)
	if err != nil {
		return err
	}
	return g.print(run)
}

type StatusCmd struct {
	RunID string `arg:"" name:"run-id" help:"Run identifier."`
}

func (c *StatusCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.engine.Get(ctx, c.RunID)
	if err != nil {
		return err
	}
	return g.print(run)
}

type ListCmd struct {
	Case string `required:"" help:"Case identifier."`
}

func (c *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.engine.ListByCase(ctx, c.Case)
	if err != nil {
		return err
	}
	return g.print(runs)
}

type PendingCmd struct{}

func (c *PendingCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.engine.ListPending(ctx)
	if err != nil {
		return err
	}
	return g.print(runs)
}

type DecideCmd struct {
	RunID    string  `arg:"" name:"run-id" help:"Run identifier."`
	Case     string  `required:"" help:"Case identifier the run belongs to."`
	Decision string  `required:"" enum:"approved,rejected" help:"approved or rejected."`
	Comments string  `help:"Reviewer comments."`
	Reviewer string  `help:"Reviewer identity." env:"USER"`
	Action   string  `help:"Replace the proposed action (full_refund, partial_refund, deny_refund, account_credit)."`
	Amount   float64 `help:"Replace the proposed amount; used with --action."`
	Charge   string  `help:"Refund this payment charge instead of the billing account."`
	Reason   string  `help:"Reason for a modified resolution."`
}

func (c *DecideCmd) decision() dispute.HumanReviewDecision {
	d := dispute.HumanReviewDecision{
		RunID:    c.RunID,
		CaseID:   c.Case,
		Decision: dispute.ReviewStatus(c.Decision),
		Comments: c.Comments,
		Reviewer: c.Reviewer,
	}
	if c.Action != "" {
		reason := c.Reason
		if reason == "" {
			reason = "Modified by reviewer " + c.Reviewer
		}
		d.ModifiedResolution = &dispute.ResolutionProposal{
			Action:     dispute.Action(c.Action),
			Amount:     c.Amount,
			Reason:     reason,
			Confidence: 1,
			RiskLevel:  dispute.RiskLow,
			ChargeID:   c.Charge,
		}
	}
	return d
}

func (c *DecideCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.SubmitDecision(ctx, c.decision())
	if err != nil {
		return err
	}
	return g.print(result)
}

type ResumeCmd struct {
	RunID string `arg:"" name:"run-id" help:"Run identifier."`
}

func (c *ResumeCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.engine.Resume(ctx, c.RunID)
	if err != nil {
		return err
	}
	return g.print(run)
}

type CostsCmd struct {
	Case string `required:"" help:"Case identifier."`
}

func (c *CostsCmd) Run(g *Globals) error {
	ctx := context.Background()
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.engine.CaseCosts(ctx, c.Case)
	if err != nil {
		return err
	}
	return g.print(summary)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("disputectl"),
		kong.Description("Durable billing dispute workflows with a human review gate."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

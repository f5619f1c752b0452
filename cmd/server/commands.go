package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warp/policy-engine/api"
	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
	"github.com/warp/policy-engine/versioning"
)

// =============================================================================
// SERVE
// =============================================================================

type serveOptions struct {
	Port int
	Demo bool
}

func (s *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&s.Port, "port", 0, "HTTP server port (overrides listen_addr)")
	cmd.Flags().BoolVar(&s.Demo, "demo", false, "mount /api/scenarios (resets the database on load)")
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	serve := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, serve)
		},
	}
	serve.bind(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, serve *serveOptions) error {
	a, err := newApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.ListenAddr
	if serve.Port > 0 {
		addr = fmt.Sprintf(":%d", serve.Port)
	}

	handler := api.NewHandler(a.store, a.versions, a.approvals, a.payroll)
	handler.Logger = a.logger
	handler.EnableScenarios = serve.Demo

	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", addr, "db", a.cfg.DB.Path, "demo", serve.Demo)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// =============================================================================
// SYNC
// =============================================================================

type periodFlags struct {
	Org   string
	Month int
	Year  int
}

func (p *periodFlags) bind(cmd *cobra.Command) {
	now := time.Now().UTC()
	cmd.Flags().StringVar(&p.Org, "org", "", "organization id")
	cmd.Flags().IntVar(&p.Month, "month", int(now.Month()), "payroll month (1-12)")
	cmd.Flags().IntVar(&p.Year, "year", now.Year(), "payroll year")
	_ = cmd.MarkFlagRequired("org")
}

func (p *periodFlags) period() (policy.Period, error) {
	return policy.NewPeriod(p.Month, p.Year)
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		pf  periodFlags
		run string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply a month of policy adjustments to a payroll run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := pf.period()
			if err != nil {
				return err
			}
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.payroll.SyncPoliciesWithPayroll(cmd.Context(), policy.PayrollRunID(run), policy.OrgID(pf.Org), period)
			if err != nil {
				return err
			}
			if err := writeJSONTo(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%d of %d employees failed", len(res.Errors), len(res.Errors)+res.EmployeesProcessed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "payroll run id")
	_ = cmd.MarkFlagRequired("run")
	pf.bind(cmd)
	return cmd
}

// =============================================================================
// IMPACT
// =============================================================================

func newImpactCommand(opts *rootOptions) *cobra.Command {
	var (
		pf     periodFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Print the payroll impact report for one month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", format)
			}
			period, err := pf.period()
			if err != nil {
				return err
			}
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.payroll.CalculateImpact(cmd.Context(), policy.OrgID(pf.Org), period)
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSONTo(cmd.OutOrStdout(), report)
			}
			return printImpact(cmd.OutOrStdout(), a.payroll, report)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	pf.bind(cmd)
	return cmd
}

func printImpact(w io.Writer, svc *payroll.Service, r *payroll.ImpactReport) error {
	p := svc.Printer
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	p.Fprintf(tw, "Payroll impact %s for %s (%s)\n", r.Period.String(), r.OrgID, svc.Currency)
	fmt.Fprintln(tw, "Employee\tDepartment\tBaseline\tDeductions\tBonuses\tFinal\t")
	for _, e := range r.Employees {
		p.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.EmployeeName, e.DepartmentName,
			e.BaselineSalary.StringFixed(2),
			e.TotalPolicyDeductions.StringFixed(2),
			e.TotalPolicyBonuses.StringFixed(2),
			e.FinalTotalSalary.StringFixed(2))
	}
	s := r.Summary
	p.Fprintf(tw, "Total (%d of %d affected)\t\t%s\t%s\t%s\t%s\t\n",
		s.AffectedEmployees, s.TotalEmployees,
		s.TotalBaseline.StringFixed(2),
		s.TotalDeductions.StringFixed(2),
		s.TotalBonuses.StringFixed(2),
		s.TotalFinalSalary.StringFixed(2))
	return tw.Flush()
}

// =============================================================================
// IMPORT
// =============================================================================

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		org    string
		author string
		submit bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create DRAFT policies from a YAML rule book, all or nothing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- path is operator-provided.
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			defs, err := factory.NewPolicyFactory().ParseRuleBook(raw)
			if err != nil {
				return err
			}

			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			batch := make([]versioning.NewPolicy, 0, len(defs))
			for _, def := range defs {
				batch = append(batch, versioning.NewPolicy{Name: def.Name, Content: def.Content})
			}
			var after func(policy.Store, *policy.Policy) error
			if submit {
				after = func(tx policy.Store, p *policy.Policy) error {
					_, err := a.approvals.SubmitInTx(cmd.Context(), tx, p.ID, policy.UserID(author), "Imported from "+args[0])
					return err
				}
			}

			created, err := a.versions.CreatePolicies(cmd.Context(), policy.OrgID(org), policy.UserID(author), batch, after)
			if err != nil {
				return err
			}
			for _, p := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.ID, p.Status, p.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&author, "author", "", "user recorded as author")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit every imported policy for approval")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

// =============================================================================
// EXPORT
// =============================================================================

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		org    string
		status string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print an organization's policies as a YAML rule book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			policies, err := a.versions.ListPolicies(cmd.Context(), policy.OrgID(org), policy.Status(strings.ToUpper(status)))
			if err != nil {
				return err
			}
			f := factory.NewPolicyFactory()
			book := factory.RuleBook{Policies: make([]factory.PolicyJSON, 0, len(policies))}
			for _, p := range policies {
				book.Policies = append(book.Policies, f.ToJSON(p))
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(book); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&status, "status", "", "only policies in this status")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func newTransitionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Print the approval state machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), approval.RenderTable())
			return err
		},
	}
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

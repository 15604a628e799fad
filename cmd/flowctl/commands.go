package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/zatekoja/patientflow/internal/adapters/database"
	"github.com/zatekoja/patientflow/internal/app"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	"github.com/zatekoja/patientflow/pkg/config"
)

// rootOptions holds global flags and the backend factory
type rootOptions struct {
	Format   string
	LogLevel string

	loadConfig func() (*config.Config, error)
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(config.Load)
}

func newRootCommandWith(loadConfig func() (*config.Config, error)) *cobra.Command {
	opts := &rootOptions{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Administer the patient flow system",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					observability.InitLogger("flowctl", "production", opts.LogLevel)
					observability.SetLogOutput(cmd.ErrOrStderr())
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newIssuePinCommand(opts))
	cmd.AddCommand(newTickCommand(opts))
	cmd.AddCommand(newSettingsCommand(opts))
	return cmd
}

// withApp opens the configured backends for the duration of fn
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	// the CLI never runs the background scheduler
	cfg.Queue.SchedulerEnabled = false

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// print writes v as JSON, or as text through textFn
func (o *rootOptions) print(w io.Writer, v interface{}, textFn func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	textFn(w)
	return nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client, err := postgres.NewClient(&cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := database.Migrate(cmd.Context(), client.DB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load clinics, exam routes and settings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := services.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				report, err := services.ApplySeed(cmd.Context(), a.Store, seed)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					fmt.Fprintf(w, "seeded %d clinics, %d templates, %d settings\n",
						report.Clinics, report.Templates, report.Settings)
				})
			})
		},
	}
}

func newIssuePinCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "issue-pin <clinic-id>",
		Short: "Issue today's PIN for a clinic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				pin, err := a.Pins.IssuePin(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), pin, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s %s\n", pin.ClinicID, pin.PinDate, pin.Pin)
				})
			})
		},
	}
}

func newTickCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one admission pass over every open clinic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Scheduler.Tick(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					if report.Skipped {
						fmt.Fprintln(w, "outside working hours, nothing to do")
						return
					}
					fmt.Fprintf(w, "clinics=%d called=%d expired=%d busy=%d full=%d idle=%d errors=%d\n",
						report.Clinics, report.Called, report.Expired, report.Busy,
						report.CapacityFull, report.NoWaiting, report.Errors)
				})
			})
		},
	}
}

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show system settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				raw, err := a.Settings.Raw(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), raw, func(w io.Writer) {
					printSettings(w, raw)
				})
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one system setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if _, err := a.Settings.Update(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				raw, err := a.Settings.Raw(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), raw, func(w io.Writer) {
					printSettings(w, raw)
				})
			})
		},
	})
	return cmd
}

func printSettings(w io.Writer, raw map[string]string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, raw[k])
	}
}

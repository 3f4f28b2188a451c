package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odontoclinic/clinic/internal/client"
	"github.com/odontoclinic/clinic/internal/config"
	"github.com/odontoclinic/clinic/internal/domain/odontology"
	"github.com/odontoclinic/clinic/internal/platform/cache"
	"github.com/odontoclinic/clinic/internal/workflow"
)

func odontogramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "odontogram",
		Short: "Print a patient's odontogram as seen by a clinic client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			api, _ := cmd.Flags().GetString("api")
			if api == "" {
				api = cfg.APIBaseURL
			}
			cachePath, _ := cmd.Flags().GetString("cache")
			if !cmd.Flags().Changed("cache") {
				cachePath = cfg.CachePath
			}

			rawPatient, _ := cmd.Flags().GetString("patient")
			patientID, err := uuid.Parse(rawPatient)
			if err != nil {
				return fmt.Errorf("invalid --patient: %w", err)
			}
			f, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}

			clinic, _ := cmd.Flags().GetString("clinic")
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			opts := []client.Option{
				client.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
				client.WithClinic(clinic),
			}
			if cfg.APIToken != "" {
				opts = append(opts, client.WithToken(cfg.APIToken))
			}

			var store *cache.Store
			if cachePath != "" {
				store, err = cache.Open(cachePath)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
			engine := workflow.New(workflow.Config{
				Backend: client.New(api, actor, opts...),
				Actor:   actor,
				Cache:   store,
				Logger:  logger,
			})

			chart, err := engine.Odontogram(context.Background(), patientID, f)
			if err != nil {
				return err
			}
			return renderChart(cmd.OutOrStdout(), chart)
		},
	}
	cmd.Flags().String("patient", "", "Patient id")
	cmd.Flags().String("status", "", "Only color teeth with procedures in this status")
	cmd.Flags().String("chair", "", "Only color teeth with procedures of this chair")
	cmd.Flags().String("api", "", "API base URL (defaults to API_BASE_URL)")
	cmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	cmd.Flags().String("cache", "", "Offline snapshot file (defaults to CACHE_PATH, empty disables)")
	addActorFlags(cmd)
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func filterFromFlags(cmd *cobra.Command) (odontology.Filter, error) {
	var f odontology.Filter
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		status, err := odontology.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	if raw, _ := cmd.Flags().GetString("chair"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, fmt.Errorf("invalid --chair: %w", err)
		}
		f.ChairID = id
	}
	return f, nil
}

// renderChart prints one line per tooth that carries procedures, followed by
// the status summary.
func renderChart(w io.Writer, chart *workflow.Chart) error {
	if chart.Stale {
		fmt.Fprintf(w, "OFFLINE: showing procedures cached at %s\n", chart.FetchedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Patient %s (%s dentition)\n", chart.PatientID, chart.Dentition)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOTH\tSTATUS\tCOUNT\tTREATMENTS")
	for _, tv := range chart.Teeth {
		if tv.ProcedureCount == 0 {
			continue
		}
		names := make([]string, 0, len(tv.Procedures))
		for _, p := range tv.Procedures {
			names = append(names, p.Treatment.Name)
		}
		status := string(tv.DisplayStatus)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", tv.Tooth, status, tv.ProcedureCount, strings.Join(names, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := chart.Summary
	fmt.Fprintf(w, "Total %d, active %d", s.Total, s.Active)
	for _, st := range []odontology.Status{
		odontology.StatusAvailable, odontology.StatusInProgress, odontology.StatusFinished,
		odontology.StatusContraindicated, odontology.StatusAbsent, odontology.StatusCancelled,
	} {
		if n := s.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, ", %s %d", st, n)
		}
	}
	fmt.Fprintln(w)
	return nil
}

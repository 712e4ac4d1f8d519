// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/irhub/inbound/internal/backfill"
	"github.com/irhub/inbound/internal/config"
	"github.com/irhub/inbound/internal/database"
	"github.com/irhub/inbound/internal/extract"
	"github.com/irhub/inbound/internal/mailer"
	"github.com/irhub/inbound/internal/marker"
	"github.com/irhub/inbound/internal/match"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/normalize"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "irhctl",
		Short:         "Operator tool for the inbound reconciliation service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newExtractCmd(),
		newNormalizeCmd(),
		newMarkerCmd(),
		newMatchCmd(),
		newBackfillCmd(),
		newMailTestCmd(),
	)
	return root
}

// --- extract ---

type extractOutput struct {
	Strategy string        `json:"strategy"`
	Complete bool          `json:"complete"`
	Parsed   models.Fields `json:"parsed"`
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the extraction chain on an email body",
		Long: `Reads a plain-text body from --text (or stdin when neither --text nor
--html is given) and an optional HTML body from --html, then prints the
extracted fields and the strategy that produced them. The LLM stage is
never used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			textFile, _ := cmd.Flags().GetString("text")
			htmlFile, _ := cmd.Flags().GetString("html")

			var in extract.Input
			var err error
			if textFile != "" {
				if in.Text, err = readFile(textFile); err != nil {
					return err
				}
			}
			if htmlFile != "" {
				if in.HTML, err = readFile(htmlFile); err != nil {
					return err
				}
			}
			if textFile == "" && htmlFile == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				in.Text = string(b)
			}

			res := extract.NewDefault(nil).Extract(cmd.Context(), in)
			return printJSON(cmd.OutOrStdout(), extractOutput{
				Strategy: res.Strategy,
				Complete: res.Fields.Complete(),
				Parsed:   res.Fields,
			})
		},
	}
	cmd.Flags().String("text", "", "file holding the plain-text body")
	cmd.Flags().String("html", "", "file holding the HTML body")
	return cmd
}

// --- normalize ---

type normalizeOutput struct {
	Address         string `json:"address"`
	Datetime        string `json:"datetime"`
	County          string `json:"county"`
	JurisdictionKey string `json:"jurisdiction_key"`
	CountySearch    string `json:"county_search"`
}

func newNormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Show the comparison keys for a location, timestamp and jurisdiction",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := fieldFlags(cmd)
			return printJSON(cmd.OutOrStdout(), normalizeOutput{
				Address:         normalize.Text(f.Location),
				Datetime:        normalize.Timestamp(f.Timestamp),
				County:          normalize.Text(f.Jurisdiction),
				JurisdictionKey: normalize.Jurisdiction(f.Jurisdiction),
				CountySearch:    normalize.TrimCounty(f.Jurisdiction),
			})
		},
	}
	addFieldFlags(cmd)
	return cmd
}

// --- marker ---

func newMarkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Print the reply marker embedded in outbound requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := fieldFlags(cmd)
			asHTML, _ := cmd.Flags().GetBool("as-html")
			if asHTML {
				fmt.Fprintln(cmd.OutOrStdout(), marker.HTML(f))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), marker.Format(f))
			return nil
		},
	}
	addFieldFlags(cmd)
	cmd.Flags().Bool("as-html", false, "print the hidden HTML form of the marker")
	return cmd
}

// --- match ---

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Look up the incident request that the given fields reconcile to",
		Long: `Loads the service configuration, opens the configured database and
runs the matcher for the given fields. Prints the matched request, or
reports that nothing matched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := fieldFlags(cmd)
			if !f.Complete() {
				return errors.New("--address, --datetime and --county are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := database.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			m := match.NewMatcher(match.Config{
				CandidateLimit: cfg.MatchCandidateLimit,
				Lookback:       cfg.MatchLookback,
			})
			req := m.Match(ctx, st, f)
			if req == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
	addFieldFlags(cmd)
	return cmd
}

// --- backfill ---

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Link stored replies that arrived before their request was recorded",
		Long: `Re-runs the matcher over stored inbound emails that have a complete set
of parsed fields but no matched request, oldest first, and records every
new match. Nothing is forwarded: attachments are not retained.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := database.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			runner := backfill.NewRunner(backfill.RunnerConfig{
				Store: st,
				Matcher: match.NewMatcher(match.Config{
					CandidateLimit: cfg.MatchCandidateLimit,
					Lookback:       cfg.MatchLookback,
				}),
			})
			res, err := runner.Run(ctx, backfill.Request{Since: since, Limit: limit, DryRun: dryRun})
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Duration("since", 7*24*time.Hour, "lookback window; 0 scans every stored email")
	cmd.Flags().Int("limit", 100, "maximum number of emails to scan")
	cmd.Flags().Bool("dry-run", false, "report matches without linking them")
	return cmd
}

// --- mail-test ---

func newMailTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail-test",
		Short: "Send a test message through the configured mail transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			subject, _ := cmd.Flags().GetString("subject")
			if strings.TrimSpace(to) == "" {
				return errors.New("--to is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := mailer.New(cmd.Context(), cfg.Mail.Mailer())
			if err != nil {
				return err
			}

			id, err := m.Send(cmd.Context(), &mailer.Message{
				To:      to,
				Subject: subject,
				Text:    "This is a test message from the inbound reconciliation service.",
			})
			if err != nil {
				return fmt.Errorf("send test message: %w", err)
			}
			provider := cfg.Mail.Provider
			if provider == "" {
				provider = mailer.ProviderLog
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s", provider)
			if id != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (message id %s)", id)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().String("to", "", "recipient address")
	cmd.Flags().String("subject", "Inbound service test", "message subject")
	return cmd
}

// --- helpers ---

func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", "", "incident location")
	cmd.Flags().String("datetime", "", "incident date and time")
	cmd.Flags().String("county", "", "jurisdiction")
}

func fieldFlags(cmd *cobra.Command) models.Fields {
	address, _ := cmd.Flags().GetString("address")
	datetime, _ := cmd.Flags().GetString("datetime")
	county, _ := cmd.Flags().GetString("county")
	return models.Fields{
		Location:     strings.TrimSpace(address),
		Timestamp:    strings.TrimSpace(datetime),
		Jurisdiction: strings.TrimSpace(county),
	}
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

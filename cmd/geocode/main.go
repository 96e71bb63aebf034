package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/locations/internal/adapter/providers"
	"github.com/couchcryptid/locations/internal/config"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/geocode"
	"github.com/couchcryptid/locations/internal/observability"
)

type options struct {
	provider     string
	limit        int
	countryCodes []string
	language     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "geocode",
		Short:        "Query the configured geocoding providers from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.provider, "provider", "p", "",
		"provider to use (defaults to LOCATION_GEOCODING_PROVIDER)")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Forward-geocode free text into candidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd.Context(), opts.provider)
			if err != nil {
				return err
			}
			candidates, err := svc.Search(cmd.Context(), strings.Join(args, " "), domain.SearchOptions{
				Limit:        opts.limit,
				CountryCodes: opts.countryCodes,
				Language:     opts.language,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), candidates)
		},
	}
	search.Flags().IntVarP(&opts.limit, "limit", "n", 5, "maximum number of candidates")
	search.Flags().StringSliceVarP(&opts.countryCodes, "country", "c", nil, "ISO country codes to bias results")
	search.Flags().StringVar(&opts.language, "language", "", "preferred result language")

	reverse := &cobra.Command{
		Use:   "reverse <lat> <lon>",
		Short: "Reverse-geocode a coordinate pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parse lat: %w", err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse lon: %w", err)
			}
			svc, err := newService(cmd.Context(), opts.provider)
			if err != nil {
				return err
			}
			candidate, err := svc.Reverse(cmd.Context(), lat, lon)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), candidate)
		},
	}

	countries := &cobra.Command{
		Use:   "countries",
		Short: "List the supported country codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, c := range domain.Countries().All() {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Code, c.Name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "providers",
		Short: "List the registered geocoding providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			reg, err := providers.NewRegistry(cfg)
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				marker := " "
				if name == cfg.GeocodingProvider {
					marker = "*"
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	root.AddCommand(search, reverse, countries, list)
	return root
}

// newService builds a geocode service with the requested provider active.
// Unlike the server, an unavailable provider is an error here rather than a
// silent fallback.
func newService(ctx context.Context, provider string) (*geocode.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if provider == "" {
		provider = cfg.GeocodingProvider
	}

	reg, err := providers.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := geocode.NewService(reg, geocode.Options{
		DefaultProvider: config.DefaultProvider,
		Timeout:         cfg.GeocodeTimeout,
	}, observability.NewMetricsForTesting(), observability.DiscardLogger())
	if err != nil {
		return nil, err
	}
	if err := svc.SetProvider(ctx, provider); err != nil {
		return nil, err
	}
	return svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

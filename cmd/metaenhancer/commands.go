package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/metaenhancer/metaenhancer/internal/app"
	"github.com/metaenhancer/metaenhancer/internal/config"
	"github.com/metaenhancer/metaenhancer/internal/version"
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configPath string
	v := config.New()

	root := &cobra.Command{
		Use:   "metaenhancer",
		Short: "Fill in missing chemical metadata from public compound databases",
		Long: `metaenhancer resolves missing attributes (InChI, InChIKey, SMILES, CAS number,
formula, mass, database ids) of every row in a table by chaining conversions
offered by PubChem, CIR, CTS, NLM, IDSM, BridgeDB and local computation.

Settings come from defaults, an optional YAML file (--config),
METAENHANCER_* environment variables (METAENHANCER_NETWORK_MAX_RETRIES)
and flags, in increasing precedence.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return nil, configError(err)
		}
		if f := cmd.Flags().Lookup("job"); f != nil {
			if err := v.BindPFlag("jobs", f); err != nil {
				return nil, configError(err)
			}
		}
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, configError(err)
		}
		return cfg, nil
	}

	root.AddCommand(newAnnotateCommand(v, load))
	root.AddCommand(newConversionsCommand(v, load))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
		},
	})
	return root
}

type loader func(cmd *cobra.Command) (*config.Config, error)

func newAnnotateCommand(v *viper.Viper, load loader) *cobra.Command {
	var inputPath, outputPath string
	cmd := &cobra.Command{
		Use:   "annotate --input in.csv --output out.csv",
		Short: "Resolve missing attributes of every row of a CSV table",
		Example: `  metaenhancer annotate --input spectra.csv --output enriched.csv
  metaenhancer annotate -i in.csv -o out.csv --providers PubChem,CIR --job compound_name,inchi,PubChem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := app.RunLocal(cmd.Context(), cfg, inputPath, outputPath, cmd.OutOrStdout()); err != nil {
				return runError(err)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&inputPath, "input", "i", "", "input CSV; header names are attribute names")
	fs.StringVarP(&outputPath, "output", "o", "", "output CSV")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	fs.Int("workers", v.GetInt("workers"), "entities resolved concurrently")
	fs.Bool("repeat", v.GetBool("repeat"), "repeat passes until nothing new is found")
	fs.Bool("curate", v.GetBool("curate"), "repair CAS numbers and names before resolving")
	fs.String("job-file", "", "YAML file with jobs (source, target, provider)")
	fs.StringArray("job", nil, "job as source,target,provider (repeatable); default: every conversion")
	fs.String("verbosity", v.GetString("verbosity"), "lowest diagnostic level logged per entity: info, warning, error")
	fs.Duration("entity-timeout", v.GetDuration("entity-timeout"), "bound on one entity's resolution (0: none)")
	fs.String("report.path", "", "write a YAML run report to this file")
	fs.Bool("report.records", false, "include per-entity diagnostics in the report")
	fs.String("cache.path", "", "SQLite file caching provider responses across runs")
	fs.Duration("cache.ttl", v.GetDuration("cache.ttl"), "age after which cached responses are ignored")
	fs.Bool("monitor.enabled", v.GetBool("monitor.enabled"), "probe providers in the background and skip unreachable ones")
	fs.Duration("network.request-timeout", v.GetDuration("network.request-timeout"), "timeout of one upstream request")
	fs.Int("network.max-retries", v.GetInt("network.max-retries"), "retries of a transient upstream failure")
	fs.String("metrics.addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.Bool("trace.enabled", false, "export spans")
	fs.String("trace.output", "", "span output file (default stderr)")
	addCommonFlags(fs, v)
	return cmd
}

func newConversionsCommand(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversions",
		Short: "List the conversions of the configured providers as job triples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := app.Conversions(cfg, cmd.OutOrStdout()); err != nil {
				return runError(err)
			}
			return nil
		},
	}
	addCommonFlags(cmd.Flags(), v)
	return cmd
}

func addCommonFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.StringSlice("providers", nil, "providers to use (default: all)")
	fs.String("log.level", v.GetString("log.level"), "log level: trace, debug, info, warn, error")
	fs.String("log.format", v.GetString("log.format"), "log format: console or json")
	fs.String("log.output", v.GetString("log.output"), "log destination: stderr, stdout or a file path")
	fs.String("ca-bundle", "", "PEM bundle replacing the system trust store")
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alias1177/HotDigits/internal/analyze"
	"github.com/Alias1177/HotDigits/internal/backtest"
	"github.com/Alias1177/HotDigits/internal/calculate"
	"github.com/Alias1177/HotDigits/internal/config"
	"github.com/Alias1177/HotDigits/internal/draws"
	httpclient "github.com/Alias1177/HotDigits/internal/platform/http"
	"github.com/Alias1177/HotDigits/internal/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type inputFlags struct {
	file  string
	url   string
	width int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(ctx context.Context) *cobra.Command {
	var cfg *config.Config
	var in inputFlags

	root := &cobra.Command{
		Use:           "analyzer",
		Short:         "Decay-weighted hot digit analysis of draw histories",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			config.SetupLogging(cfg.LogLevel)
			if in.width != 0 {
				cfg.DrawWidth = in.width
			}
			return cfg.Validate()
		},
	}
	root.PersistentFlags().StringVarP(&in.file, "file", "f", "", "read draws from file (default stdin)")
	root.PersistentFlags().StringVar(&in.url, "url", "", "fetch draws from an HTTP URL")
	root.PersistentFlags().IntVarP(&in.width, "width", "w", 0, "draw width (overrides DRAW_WIDTH)")

	root.AddCommand(analyzeCmd(ctx, &cfg, &in))
	root.AddCommand(backtestCmd(ctx, &cfg, &in))
	root.AddCommand(tiersCmd(&cfg))
	return root
}

func analyzeCmd(ctx context.Context, cfg **config.Config, in *inputFlags) *cobra.Command {
	var asJSON, noML bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Rank hot digits, pairs and triplets for the next draw",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			text, err := readInput(ctx, c, in, cmd.InOrStdin())
			if err != nil {
				return err
			}

			opts := analyze.OptionsFromConfig(c)
			if noML {
				opts.EnableML = false
			}
			assembler, err := analyze.New(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, time.Duration(c.AnalysisTimeout)*time.Second)
			defer cancel()

			analysis, err := assembler.AnalyzeText(ctx, text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := render.JSON(analysis)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			_, err = io.WriteString(out, render.Text(analysis, render.Plain))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	cmd.Flags().BoolVar(&noML, "no-ml", false, "skip the classifier")
	return cmd
}

func backtestCmd(ctx context.Context, cfg **config.Config, in *inputFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backtest",
		Short: "Print walk-forward hits for every alpha of every tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			text, err := readInput(ctx, c, in, cmd.InOrStdin())
			if err != nil {
				return err
			}
			parsed, err := draws.Parse(text, c.DrawWidth, c.MaxDraws)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, time.Duration(c.AnalysisTimeout)*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			for _, t := range c.Tiers {
				gen, err := calculate.NewGenerator(calculate.GeneratorOptions{
					PairSource:    c.PairSource,
					TripletSource: c.TripletSource,
					Rules:         t.Rules,
				})
				if err != nil {
					return err
				}
				res, err := backtest.NewSelector(gen, t.Window, c.BacktestTopK).
					Select(ctx, parsed.Sequence.Draws, t.AlphaGrid, t.RequiredHistory())
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%s: %d positions\n", t.Name, res.Positions)
				for i, alpha := range res.Grid {
					marker := ""
					if alpha == res.Selected {
						marker = " *"
					}
					fmt.Fprintf(out, "  alpha %.2f  hits %d%s\n", alpha, res.Hits[i], marker)
				}
			}
			return nil
		},
	}
}

func tiersCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Print the effective tier configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(map[string]any{"tiers": (*cfg).Tiers})
		},
	}
}

func readInput(ctx context.Context, cfg *config.Config, in *inputFlags, stdin io.Reader) (string, error) {
	switch {
	case in.url != "":
		client := httpclient.NewClient(httpclient.ClientOptions{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		})
		return httpclient.NewDrawFeed(client, in.url).FetchText(ctx)
	case in.file != "":
		data, err := os.ReadFile(in.file)
		if err != nil {
			return "", fmt.Errorf("reading draws file: %w", err)
		}
		return string(data), nil
	default:
		log.Debug().Msg("Reading draws from stdin")
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
}

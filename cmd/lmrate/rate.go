package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lmrate/internal/config"
	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/doctree"
	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/parser"
	"github.com/dgallion1/lmrate/internal/pipeline"
	"github.com/dgallion1/lmrate/internal/rating"
	"github.com/dgallion1/lmrate/internal/scorer"
	"github.com/dgallion1/lmrate/internal/scorer/loader"
)

var (
	configFile   string
	level        string
	beamWidth    int
	noClustering bool
	streamMode   bool
	lstmModel    string
	ngramModel   string
	scorerURL    string
	jsonOutput   bool
	outputFile   string
)

func init() {
	rateCmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file (defaults apply when empty)")
	rateCmd.Flags().StringVar(&level, "level", "", "text level to decode: region, line, word or glyph")
	rateCmd.Flags().IntVar(&beamWidth, "beam-width", 0, "number of hypotheses kept per step")
	rateCmd.Flags().BoolVar(&noClustering, "no-clustering", false, "disable merging of hypotheses with similar model state")
	rateCmd.Flags().BoolVar(&streamMode, "stream", false, "rate the first-choice text only, without alternative decoding")
	rateCmd.Flags().StringVar(&lstmModel, "model", "", "LSTM model file")
	rateCmd.Flags().StringVar(&ngramModel, "ngram", "", "byte n-gram model file")
	rateCmd.Flags().StringVar(&scorerURL, "scorer-url", "", "model server URL")
	rateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the rating as JSON")
	rateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the rewritten PAGE-XML to this file (PAGE-XML input only)")
}

var rateCmd = &cobra.Command{
	Use:   "rate FILE",
	Short: "Rate the text of a document",
	Long: `Rate a PAGE-XML, hOCR or plain document with a language model.

Examples:
  # Choose the best alternative per word with an n-gram model
  lmrate rate --ngram model.json page.xml

  # Keep only the chosen readings in a new PAGE-XML file
  lmrate rate --ngram model.json --level word -o rated.xml page.xml

  # Score glyph alternatives with an LSTM, no clustering
  lmrate rate --model lstm.json --level glyph --no-clustering page.xml

  # Rate plain text against a model server and print JSON
  lmrate rate --scorer-url http://localhost:8500 --stream --json notes.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runRate,
}

// rateOptions are the resolved settings of one rate invocation.
type rateOptions struct {
	Settings pipeline.Settings
	Parser   parser.Options
	JSON     bool
}

func runRate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := resolveOptions(cfg)
	if err != nil {
		return err
	}

	s, release, err := loader.Open(ctx, loader.Options{
		Kind:      cfg.Scorer.Kind,
		ModelPath: cfg.Scorer.ModelPath,
		URL:       cfg.Scorer.URL,
		APIKey:    cfg.Scorer.APIKey,
	})
	if err != nil {
		return err
	}
	defer release()

	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var rewritten bytes.Buffer
	var page io.Writer
	if outputFile != "" {
		page = &rewritten
	}
	if err := rateDocument(ctx, s, src, args[0], opts, cmd.OutOrStdout(), page, newLogger()); err != nil {
		return err
	}
	if page != nil {
		return os.WriteFile(outputFile, rewritten.Bytes(), 0o644)
	}
	return nil
}

// applyFlags overrides configuration values with the flags the user set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("level") {
		cfg.Lattice.Level = level
	}
	if flags.Changed("beam-width") {
		cfg.Decoder.BeamWidth = beamWidth
	}
	if noClustering {
		cfg.Decoder.Clustering = false
	}
	if streamMode {
		cfg.Decoder.AlternativeDecoding = false
	}
	switch {
	case lstmModel != "":
		cfg.Scorer.Kind, cfg.Scorer.ModelPath = "lstm", lstmModel
	case ngramModel != "":
		cfg.Scorer.Kind, cfg.Scorer.ModelPath = "ngram", ngramModel
	case scorerURL != "":
		cfg.Scorer.Kind, cfg.Scorer.URL = "remote", scorerURL
	}
}

func resolveOptions(cfg config.Config) (rateOptions, error) {
	dc, err := cfg.DecoderSettings()
	if err != nil {
		return rateOptions{}, err
	}
	lc, err := cfg.LatticeSettings()
	if err != nil {
		return rateOptions{}, err
	}
	return rateOptions{
		Settings: pipeline.Settings{
			Lattice:             lc,
			Decoder:             dc,
			AlternativeDecoding: cfg.Decoder.AlternativeDecoding,
		},
		Parser: parser.Options{PDFFallbackPdftotext: cfg.Parser.PDFFallbackPdftotext},
		JSON:   jsonOutput,
	}, nil
}

// rateDocument parses src, rates it with s and writes the result to out.
// When page is non-nil the rated PAGE-XML document is written to it.
func rateDocument(ctx context.Context, s scorer.Scorer, src []byte, filename string, opts rateOptions, out, page io.Writer, log *slog.Logger) error {
	p, err := parser.ForFile(filename, opts.Parser)
	if err != nil {
		return err
	}
	if _, ok := p.(*parser.PageXMLParser); page != nil && !ok {
		return fmt.Errorf("--output needs PAGE-XML input, got %s", filepath.Ext(filename))
	}
	doc, err := p.Parse(bytes.NewReader(src), filename)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	settings := opts.Settings
	steps := lattice.Build(doc, settings.Lattice, log)
	var rt rating.Rating
	if settings.AlternativeDecoding {
		dec, err := decoder.New(s, settings.Decoder, log)
		if err != nil {
			return err
		}
		res, err := dec.Decode(ctx, steps)
		if err != nil {
			return err
		}
		rt = rating.FromPath(res)
	} else {
		rt, err = rating.Stream(ctx, s, steps)
		if err != nil {
			return err
		}
	}
	rt.Apply()
	rt.Log(log, settings.Lattice.Level)

	if page != nil {
		if err := parser.WritePageXML(page, bytes.NewReader(src), doc, settings.ProcessingStep()); err != nil {
			return err
		}
	}

	summary := rt.Summary()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return printSummary(out, summary, settings.Lattice.Level)
}

func printSummary(out io.Writer, s rating.Summary, lvl doctree.Level) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONF\tTEXT")
	for _, e := range s.Elements {
		fmt.Fprintf(tw, "%s\t%.3f\t%q\n", e.ID, e.Conf, e.Text)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if s.Stats.Empty {
		fmt.Fprintln(out, "no text to rate")
		return nil
	}
	_, err := fmt.Fprintf(out, "mode=%s avg=%.3f byte_ppl=%.3f %s_ppl=%.3f\n",
		s.Mode, s.Stats.AvgProb, s.Stats.BytePerplexity, lvl, s.Stats.ElementPerplexity)
	return err
}

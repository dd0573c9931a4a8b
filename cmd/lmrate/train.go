package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lmrate/internal/scorer/ngram"
)

var (
	ngramOrder     int
	ngramSmoothing float64
	ngramOut       string
)

func init() {
	trainCmd.Flags().IntVar(&ngramOrder, "order", 5, "n-gram order (context is order-1 bytes)")
	trainCmd.Flags().Float64Var(&ngramSmoothing, "smoothing", 0.1, "add-k smoothing constant")
	trainCmd.Flags().StringVar(&ngramOut, "out", "", "output model file (required)")

	_ = trainCmd.MarkFlagRequired("out")
}

var trainCmd = &cobra.Command{
	Use:   "train-ngram CORPUS...",
	Short: "Train a byte n-gram model from text files",
	Long: `Train a byte n-gram model usable as the rate scorer.

Examples:
  # Train a 5-gram model from two corpora
  lmrate train-ngram --order 5 --out model.json books.txt news.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	m, err := trainModel(ngramOrder, ngramSmoothing, args)
	if err != nil {
		return err
	}

	f, err := os.Create(ngramOut)
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("save model: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d-gram model to %s\n", m.Order(), ngramOut)
	return nil
}

func trainModel(order int, smoothing float64, paths []string) (*ngram.Model, error) {
	m, err := ngram.New(order, smoothing)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		// A final line break lets the model learn how a corpus ends.
		if !bytes.HasSuffix(data, []byte("\n")) {
			data = append(data, '\n')
		}
		m.Train(data)
	}
	return m, nil
}

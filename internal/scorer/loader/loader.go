// Package loader builds a scorer from its configured kind.
package loader

import (
	"context"
	"fmt"

	"github.com/dgallion1/lmrate/internal/scorer"
	"github.com/dgallion1/lmrate/internal/scorer/lstm"
	"github.com/dgallion1/lmrate/internal/scorer/ngram"
	"github.com/dgallion1/lmrate/internal/scorer/remote"
)

// Options select and locate a scorer.
type Options struct {
	Kind      string // lstm, ngram or remote
	ModelPath string
	URL       string
	APIKey    string
}

// Open returns the scorer described by opts and a function releasing it.
func Open(ctx context.Context, opts Options) (scorer.Scorer, func(), error) {
	switch opts.Kind {
	case "lstm":
		m, err := lstm.LoadFile(opts.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load lstm model: %w", err)
		}
		return m, func() {}, nil
	case "ngram":
		m, err := ngram.LoadFile(opts.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load ngram model: %w", err)
		}
		return m, func() {}, nil
	case "remote":
		c, err := remote.Dial(ctx, opts.URL, opts.APIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to model server: %w", err)
		}
		return c, c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown scorer kind %q", opts.Kind)
	}
}

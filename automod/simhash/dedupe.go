package simhash

import (
	"context"
	"fmt"

	"github.com/chatwarden/warden/models"
)

type SampleSource interface {
	RecentTrainingSamples(ctx context.Context, isSpam bool, limit int) ([]models.TrainingSample, error)
}

// Rejects proposed training samples which are near-duplicates of ones already in the corpus.
//
// A candidate is a duplicate when its fingerprint is within MaxDistance bits of an existing sample with the same label, and the token overlap confirms it (at least MinJaccard).
type Deduper struct {
	Samples     SampleSource
	MaxDistance int
	MinJaccard  float64
	// how many of the most recent samples to compare against
	Window int
}

func NewDeduper(samples SampleSource) *Deduper {
	return &Deduper{
		Samples:     samples,
		MaxDistance: DefaultMaxDistance,
		MinJaccard:  0.7,
		Window:      5000,
	}
}

// Returns the matching existing sample, or nil if the text is novel.
func (d *Deduper) FindDuplicate(ctx context.Context, text string, isSpam bool) (*models.TrainingSample, error) {
	fp := Compute(text)
	if fp == 0 {
		// nothing to compare on; callers decide whether empty text is acceptable
		return nil, nil
	}
	existing, err := d.Samples.RecentTrainingSamples(ctx, isSpam, d.Window)
	if err != nil {
		return nil, fmt.Errorf("loading training samples: %w", err)
	}
	for i := range existing {
		s := &existing[i]
		if !Similar(fp, s.Fingerprint(), d.MaxDistance) {
			continue
		}
		if Jaccard(text, s.Text) >= d.MinJaccard {
			return s, nil
		}
	}
	return nil, nil
}

package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/simhash"
	"github.com/chatwarden/warden/models"
)

type SampleStore interface {
	simhash.SampleSource
	AddTrainingSample(ctx context.Context, sample *models.TrainingSample) error
}

type TrainingHandler struct {
	Store   SampleStore
	Deduper *simhash.Deduper
	Logger  *slog.Logger
}

func NewTrainingHandler(st SampleStore, logger *slog.Logger) *TrainingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrainingHandler{
		Store:   st,
		Deduper: simhash.NewDeduper(st),
		Logger:  logger.With("handler", "training"),
	}
}

type SampleRequest struct {
	Text      string
	IsSpam    bool
	ChatID    int64
	MessageID int64
	Source    actor.Actor
}

// Adds a labelled sample to the training corpus, unless a near-duplicate with the same label already exists. Returns whether a sample was added.
func (h *TrainingHandler) AddSample(ctx context.Context, req SampleRequest) (bool, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return false, nil
	}
	dup, err := h.Deduper.FindDuplicate(ctx, text, req.IsSpam)
	if err != nil {
		return false, err
	}
	if dup != nil {
		h.Logger.Info("skipping near-duplicate training sample", "existing", dup.ID, "spam", req.IsSpam)
		return false, nil
	}
	sample := &models.TrainingSample{
		Text:      text,
		IsSpam:    req.IsSpam,
		SimHash:   int64(simhash.Compute(text)),
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Source:    req.Source,
	}
	if err := h.Store.AddTrainingSample(ctx, sample); err != nil {
		return false, err
	}
	return true, nil
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jorgepascosoto/json-s3-export/internal/config"
)

// Reporter publishes chain summaries to the summary file and, depending on
// the outcome, the webhook.
type Reporter struct {
	webhook     *WebhookNotifier
	summaryPath string
	onSuccess   bool
	onFailure   bool
}

func NewReporter(cfg *config.Config) *Reporter {
	return &Reporter{
		webhook:     NewWebhookNotifier(cfg.WebhookURL),
		summaryPath: SummaryPath(cfg.SummaryFile),
		onSuccess:   cfg.NotifyOnSuccess,
		onFailure:   cfg.NotifyOnFailure,
	}
}

// Report writes the summary and sends the webhook. A failure of one does not
// skip the other.
func (r *Reporter) Report(ctx context.Context, summary *ChainSummary) error {
	var errs []error
	if err := WriteSummary(r.summaryPath, summary); err != nil {
		errs = append(errs, err)
	}

	shouldNotify := (summary.Success && r.onSuccess) || (!summary.Success && r.onFailure)
	if shouldNotify {
		if err := r.webhook.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("webhook notification failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

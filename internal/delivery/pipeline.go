// Package delivery sends produced artifacts to the notification service
// and cleans up the local files afterwards.
package delivery

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"

	"reportbot/internal/config"
	"reportbot/internal/logging"
	"reportbot/internal/spreadsheet"
	"reportbot/internal/tracing"
)

// Pipeline delivers one firing's artifacts. It is side-effecting only:
// every failure is terminal-but-logged for that item, and the local
// files are removed regardless of delivery outcome.
type Pipeline struct {
	notifier *Notifier
	log      *logging.Logger
}

func NewPipeline(notifier *Notifier, log *logging.Logger) *Pipeline {
	return &Pipeline{notifier: notifier, log: log}
}

// Deliver sends each artifact through the webhook in production order,
// then the optional attachment, then deletes the artifact files. One
// item's exhausted retries never block the others.
func (p *Pipeline) Deliver(ctx context.Context, artifacts []spreadsheet.Artifact, attachment *config.Attachment, webhook string) {
	ctx, span := tracing.StartSpan(ctx, "delivery.pipeline",
		attribute.Int("artifacts", len(artifacts)),
	)
	defer span.End()

	for _, art := range artifacts {
		data, err := os.ReadFile(art.Path)
		if err != nil {
			p.log.WithContext(ctx).WithArtifact(art.Path).WithError(err).Error("read artifact failed")
			continue
		}
		desc := "screenshot " + filepath.Base(art.Path)
		if err := p.notifier.Send(ctx, webhook, NewImageMessage(data), desc); err != nil {
			tracing.SetSpanError(ctx, err)
		}
	}

	if attachment != nil {
		p.sendAttachment(ctx, attachment, webhook)
	}

	p.cleanup(ctx, artifacts)
}

// sendAttachment uploads the configured file and sends its reference. A
// failed upload skips the send but is not fatal to the rest of delivery.
func (p *Pipeline) sendAttachment(ctx context.Context, att *config.Attachment, webhook string) {
	if _, err := os.Stat(att.Path); err != nil {
		p.log.WithContext(ctx).WithField("path", att.Path).Warn("attachment missing, skipping send")
		return
	}

	tracing.AddSpanEvent(ctx, "delivery.upload_attachment")
	mediaID, err := p.notifier.Upload(ctx, att.UploadURL, att.Path)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.log.WithContext(ctx).WithField("path", att.Path).WithError(err).Error("attachment upload failed")
		return
	}

	desc := "file " + filepath.Base(att.Path)
	if err := p.notifier.Send(ctx, webhook, NewFileMessage(mediaID), desc); err != nil {
		tracing.SetSpanError(ctx, err)
	}
}

// cleanup removes artifact files best-effort; a deletion failure is
// logged and does not affect the pipeline outcome.
func (p *Pipeline) cleanup(ctx context.Context, artifacts []spreadsheet.Artifact) {
	for _, art := range artifacts {
		if err := os.Remove(art.Path); err != nil {
			p.log.WithContext(ctx).WithArtifact(art.Path).WithError(err).Warn("artifact cleanup failed")
			continue
		}
		p.log.WithContext(ctx).WithArtifact(art.Path).Debug("artifact removed")
	}
}

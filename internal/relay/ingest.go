package relay

import (
	"log/slog"

	"github.com/leetvoice/voice-relay-service/internal/protocol"
)

// HandleScrapeFrame processes one scrape ingress frame: the scraped context
// registry is updated with the normalized content, then editor and
// description changes are injected into the currently addressable session.
// Title changes are stored only; they reach the AI with the next session
// configuration. Ingestion is fire-and-forget: nothing is written back on
// the ingress channel.
func (c *Coordinator) HandleScrapeFrame(data []byte) {
	c.metrics.ScrapeFrames.Inc()

	frame, err := protocol.ParseScrapeFrame(data)
	if err != nil {
		c.logger.Warn("Ignoring malformed scrape frame", slog.String("error", err.Error()))
		return
	}

	content := Normalize(frame.Data.Content)

	switch frame.Type {
	case protocol.ScrapeTypeEditorUpdate:
		c.scraped.SetEditorCode(content, frame.Data.Timestamp)
		c.logger.Info("Editor content updated", slog.Int("content_len", len(content)))
		c.injector.Inject(KindCode, content)

	case protocol.ScrapeTypeDescriptionUpdate:
		c.scraped.SetDescription(content)
		c.logger.Info("Problem description updated", slog.Int("content_len", len(content)))
		c.injector.Inject(KindProblem, content)

	case protocol.ScrapeTypeTitleUpdate:
		c.scraped.SetTitle(content)
		c.logger.Info("Problem title updated", slog.String("title", content))

	default:
		c.logger.Debug("Ignoring scrape frame of unknown type",
			slog.String("type", frame.Type),
		)
	}
}

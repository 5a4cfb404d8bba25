package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leetvoice/voice-relay-service/internal/metrics"
	"github.com/leetvoice/voice-relay-service/internal/protocol"
	"github.com/leetvoice/voice-relay-service/internal/session"
)

// ContextKind classifies a real-time context update.
type ContextKind string

const (
	KindCode    ContextKind = "code"
	KindProblem ContextKind = "problem"
	KindTitle   ContextKind = "title"
)

// Injected text is capped to bound upstream payload size across repeated
// edits; truncated text is marked with an ellipsis.
const (
	maxInjectedChars = 1500
	truncationMarker = "..."
)

// nbspReplacer strips the non-breaking-space variants the scraping source
// emits. Left in place they corrupt length calculations and prompt
// formatting downstream.
var nbspReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ")

// Injector composes bounded real-time update instructions and transmits
// them as session-reconfiguration messages on the upstream transport of the
// currently addressable session, without resetting conversation history.
type Injector struct {
	store   *session.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewInjector creates a context injector routing through the given store.
func NewInjector(store *session.Store, logger *slog.Logger, m *metrics.Metrics) *Injector {
	return &Injector{store: store, logger: logger, metrics: m}
}

// Normalize replaces non-breaking-space variants with plain spaces and
// trims surrounding whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(nbspReplacer.Replace(text))
}

// Truncate caps text at maxInjectedChars characters, appending the
// truncation marker when the cap applies.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}

// Inject sends a real-time context update for the currently addressable
// session. Empty normalized text and the absence of an active upstream are
// both skip conditions, logged as warnings rather than errors.
func (i *Injector) Inject(kind ContextKind, text string) {
	cleaned := Normalize(text)
	if cleaned == "" {
		i.logger.Warn("Skipping context injection: empty content",
			slog.String("kind", string(kind)),
		)
		i.metrics.InjectionsSkipped.Inc()
		return
	}

	sessionID, ok := i.store.MostRecentActiveUpstream()
	if !ok {
		i.logger.Warn("Skipping context injection: no active upstream session",
			slog.String("kind", string(kind)),
		)
		i.metrics.InjectionsSkipped.Inc()
		return
	}

	conn, exists := i.store.UpstreamFor(sessionID)
	if !exists || !conn.Connected() {
		i.logger.Warn("Skipping context injection: upstream not connected",
			slog.String("kind", string(kind)),
			slog.String("session_id", shortID(sessionID)),
		)
		i.metrics.InjectionsSkipped.Inc()
		return
	}

	payload, err := json.Marshal(ComposeUpdate(kind, cleaned))
	if err != nil {
		i.logger.Error("Failed to encode context update",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := conn.Send(string(payload)); err != nil {
		i.logger.Error("Failed to send context update",
			slog.String("kind", string(kind)),
			slog.String("session_id", shortID(sessionID)),
			slog.String("error", err.Error()),
		)
		return
	}

	i.metrics.InjectionsSent.Inc()
	i.logger.Info("Context update sent",
		slog.String("kind", string(kind)),
		slog.String("session_id", shortID(sessionID)),
		slog.Int("content_len", len(cleaned)),
	)
}

// ComposeUpdate builds the instruction-replacement message for one context
// update. Every injection is a complete replacement, so repeated injections
// overwrite rather than accumulate upstream state.
func ComposeUpdate(kind ContextKind, cleaned string) protocol.InstructionsUpdate {
	updateText := fmt.Sprintf("[%s UPDATE] %s", strings.ToUpper(string(kind)), Truncate(cleaned, maxInjectedChars))

	instructions := fmt.Sprintf(
		"REAL-TIME UPDATE: The user has updated their %s. Current %s: %s. Please acknowledge this update briefly and provide relevant guidance based on the new content.",
		kind, kind, updateText,
	)

	return protocol.InstructionsUpdate{
		Type:    protocol.UpstreamTypeSessionUpdate,
		Session: protocol.InstructionsSession{Instructions: instructions},
	}
}

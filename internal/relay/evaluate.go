package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leetvoice/voice-relay-service/internal/protocol"
	"github.com/leetvoice/voice-relay-service/internal/upstream"
)

// Final code embedded in the evaluation prompt is capped tighter than
// context injections.
const maxEvaluationCodeChars = 1000

// TriggerEvaluation sends the end-of-interview evaluation prompt as a
// conversational turn requesting audio output, then waits the configured
// grace period so the spoken evaluation can reach the client before the
// caller stops the session.
//
// The fixed grace wait approximates "the AI finished speaking"; the
// upstream protocol exposes no completion signal this service consumes yet.
func (c *Coordinator) TriggerEvaluation(ctx context.Context, id, finalCode, duration string) error {
	if _, err := c.store.Get(id); err != nil {
		return err
	}

	conn, exists := c.store.UpstreamFor(id)
	if !exists || !conn.Connected() {
		return fmt.Errorf("session %s has no active upstream connection", shortID(id))
	}

	snap := c.scraped.Snapshot()
	if finalCode == "" {
		finalCode = snap.EditorCode
	}

	prompt := buildEvaluationPrompt(snap.Title, duration, finalCode)

	if err := sendTextTurn(conn, prompt); err != nil {
		return fmt.Errorf("failed to send evaluation prompt: %w", err)
	}

	c.metrics.EvaluationsTriggered.Inc()
	c.logger.Info("Evaluation triggered",
		slog.String("session_id", shortID(id)),
		slog.Int("final_code_len", len(finalCode)),
	)

	grace := c.relayCfg.GetEvaluationGrace()
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info("Evaluation grace period elapsed",
		slog.String("session_id", shortID(id)),
		slog.Duration("grace", grace),
	)

	return nil
}

// sendTextTurn submits a user text turn and asks for a spoken response.
func sendTextTurn(conn upstream.Conn, text string) error {
	item := protocol.ItemCreate{
		Type: protocol.UpstreamTypeItemCreate,
		Item: protocol.ConversationItem{
			ID:   "msg_" + uuid.New().String(),
			Type: "message",
			Role: "user",
			Content: []protocol.ItemContent{
				{Type: "input_text", Text: text},
			},
		},
	}

	itemPayload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := conn.Send(string(itemPayload)); err != nil {
		return err
	}

	response := protocol.ResponseCreate{
		Type: protocol.UpstreamTypeResponseCreate,
		Response: protocol.ResponseConfig{
			Modalities:   []string{"audio"},
			Instructions: "Respond as the technical interviewer. Keep it concise.",
		},
	}

	responsePayload, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return conn.Send(string(responsePayload))
}

// buildEvaluationPrompt composes the final evaluation request embedding the
// problem metadata and the truncated final code.
func buildEvaluationPrompt(title, duration, finalCode string) string {
	if title == "" {
		title = "LeetCode Problem"
	}
	if duration == "" {
		duration = "Completed"
	}

	var codeSection string
	if finalCode != "" {
		codeSection = "FINAL CODE SOLUTION:\n" + Truncate(finalCode, maxEvaluationCodeChars)
	}

	var b strings.Builder
	b.WriteString("INTERVIEW EVALUATION:\n\n")
	b.WriteString("Please provide a comprehensive evaluation of this coding interview session.\n\n")
	fmt.Fprintf(&b, "Session: %s | Duration: %s\n\n", title, duration)
	if codeSection != "" {
		b.WriteString(codeSection)
		b.WriteString("\n\n")
	}
	b.WriteString(`Evaluate:
1. Problem-solving approach and methodology
2. Code quality, structure, and correctness
3. Communication and explanation skills
4. Technical understanding (complexity, edge cases)
5. Overall strengths and improvement areas

Provide specific feedback and an overall rating. Keep response concise but thorough.`)

	return b.String()
}

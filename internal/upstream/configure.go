package upstream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leetvoice/voice-relay-service/internal/protocol"
)

// SessionContext is the problem state interpolated into the interviewer
// instructions at handshake time.
type SessionContext struct {
	Title       string
	Description string
	Code        string
	TestCases   string
}

// Voice and turn-detection parameters of the session handshake. These values
// are part of the upstream wire contract and are reproduced exactly.
const (
	voiceName           = "en-US-Ava:DragonHDLatestNeural"
	voiceType           = "azure-standard"
	transcriptionModel  = "whisper-1"
	turnDetectionType   = "azure_semantic_vad"
	noiseReductionType  = "azure_deep_noise_suppression"
	echoCancelType      = "server_echo_cancellation"
	endOfUtteranceModel = "semantic_detection_v1"
)

// SendSessionConfiguration sends the session.update handshake as the first
// outbound frame after connect. It configures the interviewer persona,
// transcription, turn detection and voice, seeded with the current problem
// context.
func SendSessionConfiguration(conn Conn, logger *slog.Logger, sessionID string, sctx SessionContext) error {
	update := protocol.SessionUpdate{
		Type: protocol.UpstreamTypeSessionUpdate,
		Session: protocol.SessionConfig{
			Instructions: BuildInstructions(sctx),
			InputAudioTranscription: protocol.AudioTranscription{
				Model:    transcriptionModel,
				Language: "en",
			},
			TurnDetection: protocol.TurnDetection{
				Type:              turnDetectionType,
				Threshold:         0.2,
				PrefixPaddingMS:   200,
				SilenceDurationMS: 200,
				RemoveFillerWords: true,
				EndOfUtteranceDetection: protocol.EndOfUtteranceDetection{
					Model:     endOfUtteranceModel,
					Threshold: 0.005,
					Timeout:   1,
				},
			},
			InputAudioNoiseReduct: protocol.NoiseReduction{Type: noiseReductionType},
			InputAudioEchoCancel:  protocol.EchoCancellation{Type: echoCancelType},
			Voice: protocol.VoiceConfig{
				Name:        voiceName,
				Type:        voiceType,
				Temperature: 0.7,
				Rate:        "1.4",
			},
		},
		EventID: "",
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode session configuration: %w", err)
	}

	if err := conn.Send(string(data)); err != nil {
		return fmt.Errorf("failed to send session configuration: %w", err)
	}

	logger.Info("Session configuration sent",
		slog.String("session_id", shortID(sessionID)),
		slog.String("title", sctx.Title),
		slog.Int("description_len", len(sctx.Description)),
		slog.Int("code_len", len(sctx.Code)),
	)

	return nil
}

// BuildInstructions composes the interviewer persona prompt with the current
// problem context interpolated as reference variables.
func BuildInstructions(sctx SessionContext) string {
	var b strings.Builder

	b.WriteString(`
You are NOT an assistant, tutor, or collaborator.
You are an AI Technical Interviewer for a high-stakes coding interview (LeetCode-style).
Act like a real interviewer: professional, concise, and evaluative.
Speak as if you are on a live voice call.

The candidate can already see the full problem and their code on screen.
The system will provide two reference variables ONCE at the start:
`)
	b.WriteString(sctx.Title)
	b.WriteString(" = the name/title of the problem\n")
	b.WriteString(sctx.Description)
	b.WriteString(" = the problem statement\n")
	b.WriteString(sctx.Code)
	b.WriteString(` = the candidate's current code in their editor

Rules for variables:
• Use them only as context. Never repeat or output them verbatim.
• Refer indirectly in plain language or pseudocode.
  - Example: ` + "`len(nums)`" + ` → "the length of nums."
  - Example: ` + "`for i in range(len(nums))`" + ` → "loop through the indices of nums."
  - Example: ` + "`nums[i] + nums[j]`" + ` → "sum of element i and element j."

--- Interview Flow ---
1. **Opening**
   - Start direct: "Walk me through your approach."

2. **During Live Coding**
   - React concisely to changes in the candidate's current code.
   - Acknowledge progress in plain language.
   - Ask focused questions only tied to what they say or write.

3. **If Stuck**
   - Give short nudges, never full strategies.
   - Example: "Could that be done without scanning twice?"

4. **Validation & Edge Cases**
   - Challenge directly: "What happens if the array is empty?"
   - "Walk through your code with a small example."

5. **Optimization**
   - Push briefly once solution works:
     "What's the complexity?"
     "Can you do better in linear time?"

6. **Follow-Ups**
   - Short variations: "How would this change if input was sorted?"

7. **Wrap-Up (ONLY when candidate says 'I am finished')**
   - Give concise feedback:
     • Strengths.
     • Weaknesses.
     • One improvement.

--- Tone & Style ---
• Always concise — 1-2 sentences max.
• End turns with a clear question.
• Stay evaluative, never explanatory.
• Refer to code only as pseudocode/intent, not syntax.
• Maintain realistic interview pressure.
• Never provide full solutions.
• Do not end until the candidate explicitly says they are finished.
`)

	if sctx.TestCases != "" {
		b.WriteString("\n**Test Cases**: ")
		b.WriteString(sctx.TestCases)
		b.WriteString("\n")
	}

	return b.String()
}

// shortID truncates a session id for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

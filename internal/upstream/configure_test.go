package upstream

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// recordingConn captures frames for handshake assertions.
type recordingConn struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingConn) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingConn) Receive() Result { return Result{Kind: ResultClosed} }
func (r *recordingConn) Close() error    { return nil }
func (r *recordingConn) Connected() bool { return true }

func TestSendSessionConfiguration(t *testing.T) {
	conn := &recordingConn{}

	err := SendSessionConfiguration(conn, testLogger(), "sess-1", SessionContext{
		Title:       "Two Sum",
		Description: "Given an array of integers nums...",
		Code:        "def two_sum(nums, target):",
	})
	if err != nil {
		t.Fatalf("SendSessionConfiguration failed: %v", err)
	}

	if len(conn.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(conn.sent))
	}
	raw := conn.sent[0]

	var update struct {
		Type    string  `json:"type"`
		EventID *string `json:"event_id"`
		Session struct {
			Instructions            string `json:"instructions"`
			InputAudioTranscription struct {
				Model    string `json:"model"`
				Language string `json:"language"`
			} `json:"input_audio_transcription"`
			TurnDetection struct {
				Type                    string  `json:"type"`
				Threshold               float64 `json:"threshold"`
				PrefixPaddingMS         int     `json:"prefix_padding_ms"`
				SilenceDurationMS       int     `json:"silence_duration_ms"`
				RemoveFillerWords       bool    `json:"remove_filler_words"`
				EndOfUtteranceDetection struct {
					Model     string  `json:"model"`
					Threshold float64 `json:"threshold"`
					Timeout   int     `json:"timeout"`
				} `json:"end_of_utterance_detection"`
			} `json:"turn_detection"`
			NoiseReduction struct {
				Type string `json:"type"`
			} `json:"input_audio_noise_reduction"`
			EchoCancellation struct {
				Type string `json:"type"`
			} `json:"input_audio_echo_cancellation"`
			Voice struct {
				Name        string  `json:"name"`
				Type        string  `json:"type"`
				Temperature float64 `json:"temperature"`
				Rate        string  `json:"rate"`
			} `json:"voice"`
		} `json:"session"`
	}
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		t.Fatalf("handshake is not valid JSON: %v", err)
	}

	if update.Type != "session.update" {
		t.Errorf("type = %q", update.Type)
	}
	if update.EventID == nil || *update.EventID != "" {
		t.Error("handshake must carry an explicit empty event_id")
	}

	s := update.Session
	if s.InputAudioTranscription.Model != "whisper-1" || s.InputAudioTranscription.Language != "en" {
		t.Errorf("transcription = %+v", s.InputAudioTranscription)
	}
	if s.TurnDetection.Type != "azure_semantic_vad" {
		t.Errorf("turn detection type = %q", s.TurnDetection.Type)
	}
	if s.TurnDetection.Threshold != 0.2 || s.TurnDetection.PrefixPaddingMS != 200 || s.TurnDetection.SilenceDurationMS != 200 {
		t.Errorf("turn detection tuning = %+v", s.TurnDetection)
	}
	if !s.TurnDetection.RemoveFillerWords {
		t.Error("remove_filler_words not set")
	}
	eou := s.TurnDetection.EndOfUtteranceDetection
	if eou.Model != "semantic_detection_v1" || eou.Threshold != 0.005 || eou.Timeout != 1 {
		t.Errorf("end of utterance = %+v", eou)
	}
	if s.NoiseReduction.Type != "azure_deep_noise_suppression" {
		t.Errorf("noise reduction = %q", s.NoiseReduction.Type)
	}
	if s.EchoCancellation.Type != "server_echo_cancellation" {
		t.Errorf("echo cancellation = %q", s.EchoCancellation.Type)
	}
	if s.Voice.Name != "en-US-Ava:DragonHDLatestNeural" || s.Voice.Type != "azure-standard" {
		t.Errorf("voice = %+v", s.Voice)
	}
	if s.Voice.Temperature != 0.7 || s.Voice.Rate != "1.4" {
		t.Errorf("voice tuning = %+v", s.Voice)
	}

	if !strings.Contains(s.Instructions, "Two Sum") {
		t.Error("instructions missing problem title")
	}
}

func TestBuildInstructions(t *testing.T) {
	got := BuildInstructions(SessionContext{
		Title:       "Valid Parentheses",
		Description: "Given a string s containing brackets...",
		Code:        "def is_valid(s):",
	})

	for _, want := range []string{
		"AI Technical Interviewer",
		"Valid Parentheses",
		"Given a string s containing brackets...",
		"def is_valid(s):",
		"Never provide full solutions.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}

	if strings.Contains(got, "Test Cases") {
		t.Error("test case section present without test cases")
	}
}

func TestBuildInstructionsWithTestCases(t *testing.T) {
	got := BuildInstructions(SessionContext{
		Title:     "Two Sum",
		TestCases: "nums=[2,7,11,15], target=9 -> [0,1]",
	})

	if !strings.Contains(got, "**Test Cases**: nums=[2,7,11,15], target=9 -> [0,1]") {
		t.Error("test cases not appended to instructions")
	}
}

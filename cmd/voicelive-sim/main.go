// voicelive-sim is a standalone fake Voice Live websocket server for manual
// end-to-end testing of the relay without Azure credentials. It accepts the
// realtime websocket, logs the configuration handshake, counts audio
// appends, and emits synthetic response frames for text turns.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type envelope struct {
	Type string `json:"type"`
}

func handleRealtime(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("x-ms-client-request-id")
	model := r.URL.Query().Get("model")

	if r.Header.Get("api-key") == "" && r.Header.Get("Authorization") == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if model == "" {
		http.Error(w, "missing model", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("session connected: model=%s request_id=%s", model, requestID)

	audioFrames := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("session ended after %d audio frames: %v", audioFrames, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("unparseable frame: %v", err)
			continue
		}

		switch env.Type {
		case "session.update":
			log.Printf("session.update received (%d bytes)", len(data))
			reply := map[string]any{"type": "session.updated"}
			payload, _ := json.Marshal(reply)
			_ = conn.WriteMessage(websocket.TextMessage, payload)

		case "input_audio_buffer.append":
			audioFrames++
			if audioFrames%100 == 0 {
				log.Printf("received %d audio frames", audioFrames)
			}

		case "conversation.item.create":
			log.Printf("text turn received (%d bytes)", len(data))

		case "response.create":
			reply := map[string]any{
				"type": "response.audio_transcript.delta",
				"delta": fmt.Sprintf("Simulated interviewer reply after %d audio frames.",
					audioFrames),
			}
			payload, _ := json.Marshal(reply)
			_ = conn.WriteMessage(websocket.TextMessage, payload)

		default:
			log.Printf("ignoring frame type %q", env.Type)
		}
	}
}

func main() {
	port := flag.Int("port", 9100, "Port to listen on")
	flag.Parse()

	http.HandleFunc("/voice-live/realtime", handleRealtime)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("fake Voice Live server listening on %s", addr)
	log.Printf("point the relay at endpoint http://localhost%s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

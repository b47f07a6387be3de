package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/eleven-am/voice-relay/internal/events"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: tail <client-id>")
	}
	clientID := os.Args[1]

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		log.Fatal("API_KEY env required")
	}

	base := os.Getenv("RELAY_URL")
	if base == "" {
		base = "ws://localhost:8080"
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/v1/clients/" + clientID + "/events")
	if err != nil {
		log.Fatal("parse url:", err)
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "dial failed: status=%d body=%s\n", resp.StatusCode, string(body))
		}
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "following events for client %s\n", clientID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			return
		}
		printEvent(ev)
	}
}

func printEvent(ev events.Event) {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case events.TypeAudioData:
		if ev.Stop {
			fmt.Printf("%s %-18s source=%s seq=%d stop\n", ts, ev.Type, ev.Source, ev.Sequence)
			return
		}
		fmt.Printf("%s %-18s source=%s seq=%d codec=%s bytes=%d\n", ts, ev.Type, ev.Source, ev.Sequence, ev.Codec, len(ev.Payload))
	case events.TypeOffer:
		fmt.Printf("%s %-18s sdp=%d bytes\n", ts, ev.Type, len(ev.SDP))
	default:
		ev.Payload = nil
		data, _ := json.Marshal(ev)
		fmt.Printf("%s %-18s %s\n", ts, ev.Type, data)
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type outbound struct {
	Type             string `json:"type"`
	State            string `json:"state,omitempty"`
	Text             string `json:"text,omitempty"`
	IsFinal          *bool  `json:"isFinal,omitempty"`
	AudioURL         string `json:"audioUrl,omitempty"`
	CreateAdjustment bool   `json:"createAdjustment,omitempty"`
	Message          string `json:"message,omitempty"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	origin := flag.String("origin", "", "Origin header sent with the handshake")
	flag.Parse()

	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(*url, header)
	if err != nil {
		if resp != nil {
			fmt.Println("dial error:", err, "status:", resp.Status)
		} else {
			fmt.Println("dial error:", err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					fmt.Println("read error:", err)
				}
				return
			}
			printFrame(payload)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	fmt.Println("type a message, /interrupt, /voice <name>, /lang <code> or /quit")
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			closeConn(conn, done)
			return
		case line, ok := <-lines:
			if !ok {
				closeConn(conn, done)
				return
			}
			msg, quit := command(strings.TrimSpace(line))
			if quit {
				closeConn(conn, done)
				return
			}
			if msg == nil {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				fmt.Println("write error:", err)
				return
			}
		}
	}
}

// command maps one input line onto an inbound frame. A nil frame means
// nothing should be sent.
func command(line string) (map[string]any, bool) {
	switch {
	case line == "":
		return nil, false
	case line == "/quit":
		return nil, true
	case line == "/interrupt":
		return map[string]any{"type": "interrupt"}, false
	case strings.HasPrefix(line, "/voice "):
		return map[string]any{"type": "config", "config": map[string]any{"voiceName": strings.TrimSpace(line[len("/voice "):])}}, false
	case strings.HasPrefix(line, "/lang "):
		return map[string]any{"type": "config", "config": map[string]any{"language": strings.TrimSpace(line[len("/lang "):])}}, false
	case strings.HasPrefix(line, "/"):
		fmt.Println("unknown command:", line)
		return nil, false
	default:
		return map[string]any{"type": "text", "text": line}, false
	}
}

func printFrame(payload []byte) {
	var f outbound
	if err := json.Unmarshal(payload, &f); err != nil {
		fmt.Println("<", string(payload))
		return
	}
	switch f.Type {
	case "state":
		fmt.Printf("< [%s]\n", f.State)
	case "transcript":
		final := f.IsFinal != nil && *f.IsFinal
		fmt.Printf("< transcript (final=%t): %s\n", final, f.Text)
	case "response":
		fmt.Printf("< %s\n", f.Text)
		if f.AudioURL != "" {
			fmt.Printf("  audio: %s\n", f.AudioURL)
		}
		if f.CreateAdjustment {
			fmt.Println("  createAdjustment: true")
		}
		fmt.Printf("< [%s]\n", f.State)
	case "error":
		fmt.Printf("< error: %s\n", f.Message)
	default:
		fmt.Println("<", string(payload))
	}
}

func closeConn(conn *websocket.Conn, done <-chan struct{}) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

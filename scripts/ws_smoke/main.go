package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ws_smoke dials two peers into one room, sends an offer from the first and
// checks the second receives it unchanged.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8000/ws/signaling", "signaling base address")
	room := flag.String("room", "smoke", "room name")
	token := flag.String("token", "", "JWT to pass as ?token=")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := roomURL(*base, *room, *token)

	caller, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial caller: %w", err)
	}
	defer caller.Close(websocket.StatusNormalClosure, "bye")

	callee, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial callee: %w", err)
	}
	defer callee.Close(websocket.StatusNormalClosure, "bye")

	// Give the relay a moment to register both sessions.
	time.Sleep(100 * time.Millisecond)

	offer := map[string]any{
		"type": "offer",
		"sdp":  "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n",
		"sent": time.Now().UnixMilli(),
	}
	if err := wsjson.Write(ctx, caller, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	var got map[string]any
	if err := wsjson.Read(ctx, callee, &got); err != nil {
		return fmt.Errorf("read offer: %w", err)
	}

	want, _ := json.Marshal(offer)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		return fmt.Errorf("payload changed in transit: sent %s got %s", want, have)
	}

	fmt.Printf("ok: offer relayed in room %q\n", *room)
	return nil
}

func roomURL(base, room, token string) string {
	u := base + "/" + url.PathEscape(room) + "/"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirerelay/internal/auth"
)

// ws_chat is an interactive relay client. Lines that are valid JSON are sent
// as-is; anything else is wrapped as {"type":"chat","text":...}.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8000/ws/signaling", "signaling base address")
	room := flag.String("room", "general", "room to join")
	user := flag.String("user", "cli-user", "token subject")
	secret := flag.String("jwt-secret", "", "mint a token with this secret")
	flag.Parse()

	target := *base + "/" + url.PathEscape(*room) + "/"
	if *secret != "" {
		token, err := auth.GenerateToken(&auth.JWTConfig{
			Secret: []byte(*secret),
			TTL:    time.Hour,
		}, *user, *user)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		target += "?token=" + url.QueryEscape(token)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to room %s\n", *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Printf("read: %v", err)
			}
			return
		}
		fmt.Printf("< %s\n", data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, frame(line)); err != nil {
			log.Printf("send: %v", err)
			return
		}
	}
}

func frame(line string) []byte {
	if json.Valid([]byte(line)) {
		return []byte(line)
	}
	data, _ := json.Marshal(map[string]string{"type": "chat", "text": line})
	return data
}

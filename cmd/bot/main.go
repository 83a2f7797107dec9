// bot is a scripted client: it joins, claims a gripper, and wanders the
// board gripping and turning pieces. Useful as a demo and as load.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"blockworld.ai/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		token = flag.String("token", "", "auth token")
		pace  = flag.Duration("pace", 250*time.Millisecond, "time between commands")
		seed  = flag.Int64("seed", 0, "rng seed (0 = time)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{Type: protocol.TypeHello, Name: *name, Token: *token}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read welcome: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("unexpected first frame: %s", msg)
	}
	logger.Printf("welcome session=%s board=%dx%d objs=%d",
		welcome.SessionID, welcome.Config.Width, welcome.Config.Height, len(welcome.State.Objs))

	// Reader: keep the socket drained and report server-side errors.
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type == protocol.TypeError {
				var e protocol.ErrorMsg
				if json.Unmarshal(msg, &e) == nil {
					logger.Printf("server error: %s %s", e.Code, e.Detail)
				}
			}
		}
	}()

	if err := conn.WriteJSON(map[string]any{"type": protocol.TypeAddGripper}); err != nil {
		logger.Fatalf("add_gripper: %v", err)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(s))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*pace)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			_ = conn.WriteJSON(map[string]any{"type": protocol.TypeRemoveGripper})
			return
		case <-tick.C:
		}

		var cmd map[string]any
		switch rng.Intn(10) {
		case 0, 1, 2, 3, 4, 5:
			cmd = map[string]any{
				"type": protocol.TypeMove,
				"id":   welcome.SessionID,
				"dx":   float64(rng.Intn(3) - 1),
				"dy":   float64(rng.Intn(3) - 1),
			}
		case 6, 7:
			cmd = map[string]any{"type": protocol.TypeGrip, "id": welcome.SessionID}
		case 8:
			dir := 1
			if rng.Intn(2) == 0 {
				dir = -1
			}
			cmd = map[string]any{"type": protocol.TypeRotate, "id": welcome.SessionID, "direction": dir}
		default:
			cmd = map[string]any{"type": protocol.TypeFlip, "id": welcome.SessionID}
		}
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Fatalf("send: %v", err)
		}
	}
}

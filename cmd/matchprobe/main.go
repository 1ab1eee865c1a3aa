package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-match-server/pkg/matchdto"
)

func main() {
	baseURL := os.Getenv("MATCH_BASE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8090"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	name := os.Getenv("PROBE_NAME")
	if name == "" {
		name = "probe"
	}

	checkEndpoint(baseURL + "/healthz")
	checkEndpoint(baseURL + "/status")

	wsURL := os.Getenv("MATCH_WS_URL")
	if wsURL == "" {
		wsURL = strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sock, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("ws dial error: %v", err)
	}
	log.Printf("ws connected: %s", wsURL)

	// A profile lookup is the one round trip with no match side effects.
	raw, err := matchdto.Encode(matchdto.TypeProfile, matchdto.ProfileRequest{Name: name})
	if err != nil {
		log.Fatalf("encode error: %v", err)
	}
	if err := sock.Write(ctx, websocket.MessageText, raw); err != nil {
		log.Fatalf("ws write error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env matchdto.Envelope
			if rerr := wsjson.Read(context.Background(), sock, &env); rerr != nil {
				return
			}
			fmt.Printf("WS event type=%s data=%s\n", env.Type, string(env.Data))
		}
	}()

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	select {
	case <-t.C:
	case <-done:
	}

	_ = sock.Close(websocket.StatusNormalClosure, "probe done")
}

func checkEndpoint(url string) {
	status, body, err := fasthttp.GetTimeout(nil, url, 5*time.Second)
	if err != nil {
		log.Printf("%s error: %v", url, err)
		return
	}
	log.Printf("%s ok: status=%d body=%s", url, status, string(body))
}

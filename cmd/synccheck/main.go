package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/jwp-labs/rankduel/internal/syncfast"
)

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("SYNC_BASE_URL")
	wsURL := os.Getenv("SYNC_WS_URL")
	apiKey := os.Getenv("SYNC_API_KEY")
	clientID := os.Getenv("SYNC_CLIENT_ID")

	if baseURL == "" {
		log.Fatal("SYNC_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if apiKey != "" {
			m["X-Api-Key"] = apiKey
		}
		if clientID != "" {
			m["X-Client-Id"] = clientID
		}
		return m
	}

	client := syncfast.NewClient(baseURL,
		syncfast.WithHeaderProvider(headers),
		syncfast.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := client.GetStatus(ctx)
	if err != nil {
		log.Printf("/status error: %v", err)
	} else {
		log.Printf("/status ok: service=%s version=%s uptime=%ds backlog=%d", status.Service, status.Version, status.UptimeSeconds, status.Backlog)
	}

	if wsURL == "" {
		log.Println("SYNC_WS_URL not set; skipping WS check")
		return
	}

	ws := syncfast.NewWebSocket(wsURL, 5, time.Second)
	// Propagate headers to WS handshake if needed
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state syncfast.WebSocketState) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(msg *syncfast.Message) {
		from := "?"
		if msg.Sender != nil {
			from = *msg.Sender
		}
		fmt.Printf("WS msg room=%s from=%s text=%q\n", msg.Room, from, msg.Msg)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}

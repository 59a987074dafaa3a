package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:9811/events", "notifier events endpoint")
	count := flag.Int("count", 10, "records to request per poll")
	interval := flag.Duration("interval", 5*time.Second, "poll interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
			resp, err := client.Get(fmt.Sprintf("%s?count=%d", *endpoint, *count))
			if err != nil {
				fmt.Println(err)
				continue
			}
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				fmt.Println(err)
				continue
			}
			var prettyJSON bytes.Buffer
			if err := json.Indent(&prettyJSON, data, "", "\t"); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(prettyJSON.String())
		}
	}
}

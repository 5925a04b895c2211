// Command sse-load holds many concurrent /dashboard/stream connections open
// and fails when too few events arrive or too many connections drop.
package main

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

type counters struct {
	events   atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
}

func main() {
	streamURL := getenv("STREAM_URL", "http://localhost:8080/dashboard/stream")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	if bearer := os.Getenv("TEST_BEARER"); bearer != "" {
		u, err := url.Parse(streamURL)
		if err != nil {
			log.Fatalf("STREAM_URL: %v", err)
		}
		q := u.Query()
		q.Set("token", bearer)
		u.RawQuery = q.Encode()
		streamURL = u.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var c counters
	var wg sync.WaitGroup
	for range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listen(ctx, streamURL, &c)
		}()
	}

	go func() {
		select {
		case <-time.After(60 * time.Second):
			if c.events.Load() == 0 {
				log.Fatal("no events received in 60s")
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	events, attempts, failures := c.events.Load(), c.attempts.Load(), c.failures.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	log.WithFields(log.Fields{
		"connections":         conns,
		"duration_sec":        int(duration.Seconds()),
		"events_received":     events,
		"connection_failures": failures,
	}).Info("sse load finished")
	if events == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

// listen keeps one stream open until ctx ends, reconnecting with backoff.
func listen(ctx context.Context, streamURL string, c *counters) {
	backoff := time.Second
	fail := func() {
		c.failures.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
	for ctx.Err() == nil {
		c.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
		if err != nil {
			fail()
			continue
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			fail()
			continue
		}
		backoff = time.Second
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "data:") {
				c.events.Add(1)
			}
		}
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		fail()
	}
}

// Load harness: spawns a mock OpenAI upstream and a freshly built gateway,
// then drives vegeta against the chat endpoint. The --chaos flag adds a
// sidecar of clients that disconnect mid-stream, which is where SSE
// plumbing usually breaks.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081

	benchKey = "bench-key-12345"
)

var streamFrames = []string{
	"data: {\"id\":\"bench-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Bench\"}}]}\n\n",
	"data: {\"id\":\"bench-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"mark\"}}]}\n\n",
	"data: {\"id\":\"bench-1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" response\"}}]}\n\n",
	"data: {\"id\":\"bench-1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":3,\"total_tokens\":8}}\n\n",
	"data: [DONE]\n\n",
}

const unaryResp = `{
	"id": "bench-1",
	"object": "chat.completion",
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Benchmark response"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
}`

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	stream := flag.Bool("stream", false, "Use streaming requests")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	flag.Parse()

	go startMockUpstream()

	fmt.Println("Building gateway...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build gateway: %v", err)
	}

	binPath, err := filepath.Abs("bin/server")
	if err != nil {
		log.Fatal(err)
	}

	// The gateway reads config.yaml from its working directory, so it runs
	// inside a throwaway dir holding the bench config and database.
	workDir, err := os.MkdirTemp("", "refract-bench-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, "config.yaml"), []byte(benchConfig), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}

	fmt.Println("Starting gateway...")
	cmd := exec.Command(binPath)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "LOG_LEVEL=error", "NO_COLOR=1")

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/health", appPort))

	done := make(chan struct{})

	go monitorResources(cmd.Process.Pid, done)

	mode := "Unary"
	if *stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark: %s duration, %d req/s\n", mode, *duration, *rate)

	body := `{"model": "bench-chat", "messages": [{"role": "user", "content": "Hello"}]}`
	if *stream {
		body = `{"model": "bench-chat", "stream": true, "messages": [{"role": "user", "content": "Hello"}]}`
	}

	// Targeter stamps each request so the mock can report proxy overhead.
	targeter := func(t *vegeta.Target) error {
		t.Method = "POST"
		t.URL = fmt.Sprintf("http://localhost:%d/v1/chat/completions", appPort)
		t.Body = []byte(body)
		t.Header = http.Header{
			"Content-Type":      []string{"application/json"},
			"Authorization":     []string{"Bearer " + benchKey},
			"X-Benchmark-Start": []string{strconv.FormatInt(time.Now().UnixNano(), 10)},
		}
		return nil
	}

	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: starting disconnect sidecar...")
		chaosConcurrency := *rate / 10
		if chaosConcurrency < 5 {
			chaosConcurrency = 5
		}
		if chaosConcurrency > 50 {
			chaosConcurrency = 50
		}
		go startChaosMonkey(fmt.Sprintf("http://localhost:%d/v1/chat/completions", appPort), chaosConcurrency, done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")

		uniqueErrors := make(map[string]bool)
		count := 0
		for _, msg := range metrics.Errors {
			if !uniqueErrors[msg] && count < 5 {
				fmt.Println(msg)

				uniqueErrors[msg] = true
				count++
			}
		}
	}
}

// startChaosMonkey hammers the streaming endpoint with clients that hang up
// after 1-200ms. The gateway must log these as canceled, not leak goroutines.
func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Chaos sidecar: %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
					DisableKeepAlives:   false,
				},
			}

			payload := `{"model": "bench-chat", "stream": true, "messages": [{"role": "user", "content": "Chaos Request"}]}`

			for {
				select {
				case <-done:
					return
				default:
					timeout := time.Duration(rand.IntN(200)+1) * time.Millisecond

					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					req, _ := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("Authorization", "Bearer "+benchKey)

					resp, err := client.Do(req)
					if err == nil {
						resp.Body.Close()
					}
					cancel()

					time.Sleep(time.Duration(rand.IntN(50)) * time.Millisecond)
				}
			}
		}()
	}
}

// startMockUpstream serves an OpenAI-shaped API with canned responses.
func startMockUpstream() {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"id": "gpt-4o-mini", "object": "model", "created": 1721172741, "owned_by": "openai"}
			]
		}`))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		startStr := r.Header.Get("X-Benchmark-Start")
		if startStr != "" {
			start, _ := strconv.ParseInt(startStr, 10, 64)
			latency := time.Now().UnixNano() - start
			// Sample 1% of requests to avoid console spam
			if rand.IntN(100) == 0 {
				fmt.Printf("DEBUG: Proxy Overhead: %v\n", time.Duration(latency))
			}
		}

		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if val, ok := req["stream"].(bool); ok && val {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher, _ := w.(http.Flusher)

			for _, frame := range streamFrames {
				time.Sleep(50 * time.Millisecond)
				fmt.Fprint(w, frame)
				flusher.Flush()
			}
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(unaryResp))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

// monitorResources samples the gateway's own /metrics exposition plus ps,
// printing a line per second.
func monitorResources(pid int, done chan struct{}) {
	time.Sleep(2 * time.Second)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (/metrics + ps) ---")
	fmt.Printf("% -10s % -10s % -10s % -10s\n", "Time", "Heap(MB)", "Alloc(MB)", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			heap, alloc, err := scrapeMemory(fmt.Sprintf("http://localhost:%d/metrics", appPort))
			if err != nil {
				fmt.Printf("DEBUG: monitorResources failed to scrape metrics: %v\n", err)
				continue
			}

			cpu := 0.0
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "%cpu").Output()
			if err == nil {
				lines := strings.Split(strings.TrimSpace(string(out)), "\n")
				if len(lines) >= 2 {
					val, _ := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
					cpu = val
				}
			}

			fmt.Printf("% -10s % -10.2f % -10.2f % -10.2f\n",
				time.Now().Format("15:04:05"),
				heap/1024/1024,
				alloc/1024/1024,
				cpu,
			)
		}
	}
}

// scrapeMemory pulls the Go runtime gauges out of the Prometheus text format.
func scrapeMemory(url string) (heap, alloc float64, err error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "go_memstats_heap_inuse_bytes":
			heap, _ = strconv.ParseFloat(fields[1], 64)
		case "go_memstats_alloc_bytes":
			alloc, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	return heap, alloc, scanner.Err()
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("Gateway timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: "%d"
  env: production
  key: "%s"
rate_limit:
  requests_per_second: 100000
  burst: 100000
store:
  driver: sqlite
  dsn: "bench.db"
resilience:
  max_retries: 1
  base_delay: 10ms
  max_delay: 100ms
providers:
  - id: openai-bench
    type: openai
    name: OpenAI Mock
    api_key: "mock-key"
    base_url: "http://localhost:%d/v1"
    enabled: true
routes:
  - alias: bench-chat
    target: openai-bench/gpt-4o-mini
`, appPort, benchKey, mockPort)

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Netflix/go-env"
	"github.com/valyala/fasthttp"
)

type orderPayload struct {
	Username    string `json:"username"`
	Pin         string `json:"pin"`
	Provider    string `json:"provider"`
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	Destination string `json:"destination"`
	CostPrice   int64  `json:"cost_price"`
	Category    string `json:"category"`
	Brand       string `json:"brand"`
}

type LoadTestConfig struct {
	URL               string `env:"TARGET_URL,default=http://localhost:8080/api/v1/orders"`
	RequestsPerSecond int    `env:"REQUESTS_PER_SECOND,default=200"`
	DurationSeconds   int    `env:"DURATION_SECONDS,default=30"`
	ConcurrentWorkers int    `env:"CONCURRENT_WORKERS,default=50"`
	Username          string `env:"LOAD_USERNAME,default=loadtest"`
	Pin               string `env:"LOAD_PIN,default=123456"`
	Providers         string `env:"LOAD_PROVIDERS,default=digiflazz tokovoucher"`
	ProductCode       string `env:"LOAD_PRODUCT_CODE,default=TSEL10"`
}

type Stats struct {
	successCount  atomic.Int64
	rejectedCount atomic.Int64
	errorCount    atomic.Int64
	statuses      sync.Map
	responseTimes []float64
	mu            sync.Mutex
}

func (s *Stats) addResponseTime(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, duration)
}

func (s *Stats) getResponseTimes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make([]float64, len(s.responseTimes))
	copy(times, s.responseTimes)
	return times
}

func (s *Stats) countStatus(status string) {
	v, _ := s.statuses.LoadOrStore(status, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// sendOrder posts one order. 201 counts as success, any other answer from
// the gateway as a rejection and transport failures as errors.
func sendOrder(client *fasthttp.Client, config LoadTestConfig, payload []byte, stats *Stats) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(config.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	start := time.Now()
	err := client.DoTimeout(req, resp, 60*time.Second)
	stats.addResponseTime(time.Since(start).Seconds())
	if err != nil {
		stats.errorCount.Add(1)
		return
	}

	if resp.StatusCode() != fasthttp.StatusCreated {
		stats.rejectedCount.Add(1)
		stats.countStatus(fmt.Sprintf("http_%d", resp.StatusCode()))
		return
	}
	stats.successCount.Add(1)

	var txn struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(resp.Body(), &txn) == nil && txn.Status != "" {
		stats.countStatus(txn.Status)
	}
}

func worker(client *fasthttp.Client, config LoadTestConfig, stats *Stats, jobs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()

	for payload := range jobs {
		sendOrder(client, config, payload, stats)
	}
}

func calculatePercentile(sorted []float64, percentile float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// newPayload spreads orders across providers and unique destinations so
// every request creates a distinct transaction.
func newPayload(config LoadTestConfig, providers []string, n int) []byte {
	body, err := json.Marshal(orderPayload{
		Username:    config.Username,
		Pin:         config.Pin,
		Provider:    providers[n%len(providers)],
		ProductCode: config.ProductCode,
		ProductName: "Load test voucher",
		Destination: fmt.Sprintf("0812%08d", n),
		CostPrice:   10200,
		Category:    "Pulsa",
		Brand:       "TELKOMSEL",
	})
	if err != nil {
		panic(err)
	}
	return body
}

func main() {
	var config LoadTestConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		fmt.Fprintln(os.Stderr, "invalid load test config:", err)
		os.Exit(1)
	}

	providers := strings.FieldsFunc(config.Providers, func(r rune) bool { return r == ',' || r == ' ' })
	if len(providers) == 0 {
		fmt.Fprintln(os.Stderr, "LOAD_PROVIDERS is empty")
		os.Exit(1)
	}

	fmt.Println("Starting load test...")
	fmt.Printf("Target: %s\n", config.URL)
	fmt.Printf("Providers: %s\n", strings.Join(providers, ", "))
	fmt.Printf("Total requests: %d\n", config.RequestsPerSecond*config.DurationSeconds)
	fmt.Printf("Target RPS: %d\n", config.RequestsPerSecond)
	fmt.Printf("Concurrent workers: %d\n", config.ConcurrentWorkers)
	fmt.Printf("Duration: %d seconds\n", config.DurationSeconds)
	fmt.Println(strings.Repeat("-", 50))

	stats := &Stats{}
	client := &fasthttp.Client{
		Name:                "voucher-gateway-loadtest",
		MaxConnsPerHost:     config.ConcurrentWorkers,
		MaxIdleConnDuration: 90 * time.Second,
	}

	jobs := make(chan []byte, config.RequestsPerSecond)

	var wg sync.WaitGroup
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go worker(client, config, stats, jobs, &wg)
	}

	startTime := time.Now()
	totalRequests := config.RequestsPerSecond * config.DurationSeconds
	requestsSent := 0

	for i := 0; i < config.DurationSeconds && requestsSent < totalRequests; i++ {
		batchStart := time.Now()

		for j := 0; j < config.RequestsPerSecond && requestsSent < totalRequests; j++ {
			jobs <- newPayload(config, providers, requestsSent)
			requestsSent++
		}

		success := stats.successCount.Load()
		rejected := stats.rejectedCount.Load()
		failed := stats.errorCount.Load()
		fmt.Printf("[%ds] Completed: %d | Created: %d | Rejected: %d | Errors: %d\n",
			i+1, success+rejected+failed, success, rejected, failed)

		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}

	close(jobs)
	wg.Wait()

	duration := time.Since(startTime).Seconds()
	success := stats.successCount.Load()
	rejected := stats.rejectedCount.Load()
	failed := stats.errorCount.Load()
	total := success + rejected + failed

	times := stats.getResponseTimes()
	sort.Float64s(times)
	var avgResponseTime float64
	if len(times) > 0 {
		sum := 0.0
		for _, t := range times {
			sum += t
		}
		avgResponseTime = sum / float64(len(times))
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Total requests: %d\n", total)
	fmt.Printf("Created: %d\n", success)
	fmt.Printf("Rejected: %d\n", rejected)
	fmt.Printf("Transport errors: %d\n", failed)
	if total > 0 {
		fmt.Printf("Created rate: %.2f%%\n", float64(success)/float64(total)*100)
		fmt.Printf("Actual RPS: %.2f\n", float64(total)/duration)
	}

	fmt.Printf("\nOutcomes:\n")
	stats.statuses.Range(func(k, v any) bool {
		fmt.Printf("  %s: %d\n", k, v.(*atomic.Int64).Load())
		return true
	})

	if len(times) > 0 {
		fmt.Printf("\nResponse times:\n")
		fmt.Printf("  Average: %.2f ms\n", avgResponseTime*1000)
		fmt.Printf("  P50: %.2f ms\n", calculatePercentile(times, 0.50)*1000)
		fmt.Printf("  P95: %.2f ms\n", calculatePercentile(times, 0.95)*1000)
		fmt.Printf("  P99: %.2f ms\n", calculatePercentile(times, 0.99)*1000)
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}

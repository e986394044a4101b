// Command smoke walks a running server through ingestion, merging, undo and redo.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

var baseURL = defaultBaseURL

func main() {
	if u := os.Getenv("BASE_URL"); u != "" {
		baseURL = u
	}
	run := fmt.Sprintf("%d", time.Now().Unix())
	domain := "smoke-" + run
	q := "?domain=" + domain

	fmt.Println("Starting smoke test against", baseURL)

	step("Health", http.MethodGet, "/health", nil, http.StatusOK)

	step("Ingest entity set", http.MethodPost, "/entity-sets"+q, map[string]any{
		"id": "set-" + run,
		"entities": map[string]any{
			"security_tools": []map[string]any{
				{"id": "siem-" + run, "name": "SIEM", "confidence": 0.85},
				{"id": "siem-long-" + run, "name": "Security Information and Event Management", "confidence": 0.78},
				{"id": "fw-" + run, "name": "Firewall Appliance", "confidence": 0.9},
				{"id": "fws-" + run, "name": "Firewall Appliances", "confidence": 0.6},
			},
		},
	}, http.StatusCreated)

	var candidates []map[string]any
	decode(step("List merge candidates", http.MethodGet, "/merge-candidates"+q, nil, http.StatusOK), &candidates)
	if len(candidates) < 2 {
		fail("expected at least 2 candidates, got %d", len(candidates))
	}

	step("Manual merge", http.MethodPost, "/merge/manual", map[string]any{
		"domain":      domain,
		"primaryId":   "siem-" + run,
		"secondaryId": "siem-long-" + run,
		"user":        "smoke",
	}, http.StatusOK)

	step("Merge history", http.MethodGet, "/merge/history?entityId=siem-"+run, nil, http.StatusOK)
	step("Merge chain", http.MethodGet, "/merge/chain/siem-"+run, nil, http.StatusOK)
	step("Undo", http.MethodPost, "/merge/undo", nil, http.StatusOK)
	step("Redo", http.MethodPost, "/merge/redo", nil, http.StatusOK)

	var auto map[string]any
	decode(step("Auto-merge", http.MethodPost, "/merge/auto"+q, nil, http.StatusOK), &auto)
	fmt.Printf("Auto-merge performed %v merges\n", auto["mergesPerformed"])

	step("Consolidated entities", http.MethodGet, "/entities"+q, nil, http.StatusOK)
	step("Statistics", http.MethodGet, "/merge/statistics", nil, http.StatusOK)

	fmt.Println("Smoke test PASSED")
}

func step(name, method, endpoint string, payload any, want int) []byte {
	fmt.Printf("%s...\n", name)
	status, body, err := sendRequest(method, endpoint, payload)
	if err != nil {
		fail("%s: %v", name, err)
	}
	if status != want {
		fail("%s: status %d, want %d: %s", name, status, want, string(body))
	}
	fmt.Printf("PASSED: %s\n", name)
	return body
}

func decode(body []byte, v any) {
	if err := json.Unmarshal(body, v); err != nil {
		fail("decoding response: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Printf("FAILED: "+format+"\n", args...)
	os.Exit(1)
}

func sendRequest(method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

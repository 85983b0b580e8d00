package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/olgasafonova/wikicat/internal/config"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
)

func newBenchWiki(t *testing.T, status int) (*mediawiki.Client, *config.Config) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query": map[string]any{"categorymembers": []map[string]any{
				{"ns": 0, "title": "一石二鸟"},
				{"ns": 0, "title": "画蛇添足"},
			}},
		})
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Endpoint = server.URL
	cfg.Delay = 0
	return mediawiki.NewClient(mediawiki.ClientConfig{Endpoint: cfg.Endpoint, UserAgent: "wikicat-test/1.0"}), &cfg
}

var columnSeparators = strings.NewReplacer("│", " ", "|", " ")

func TestMeasurePageLatency_RendersRowPerBatchSize(t *testing.T) {
	client, cfg := newBenchWiki(t, http.StatusOK)

	var out bytes.Buffer
	measurePageLatency(context.Background(), &out, client, cfg)

	got := out.String()
	if strings.Contains(got, "Error") {
		t.Fatalf("unexpected error in output:\n%s", got)
	}
	if !strings.Contains(strings.ToLower(got), "per member") {
		t.Errorf("missing header in output:\n%s", got)
	}
	lines := strings.Split(got, "\n")
	for _, size := range []string{"50", "100", "250", "500"} {
		found := false
		for _, line := range lines {
			fields := strings.Fields(columnSeparators.Replace(line))
			if len(fields) >= 2 && fields[0] == size && fields[1] == "2" {
				found = true
			}
		}
		if !found {
			t.Errorf("no row for cmlimit %s in output:\n%s", size, got)
		}
	}
}

func TestMeasurePageLatency_StopsOnFetchError(t *testing.T) {
	client, cfg := newBenchWiki(t, http.StatusServiceUnavailable)

	var out bytes.Buffer
	measurePageLatency(context.Background(), &out, client, cfg)

	got := out.String()
	if !strings.Contains(got, "cmlimit=50 Error:") {
		t.Errorf("output missing fetch error:\n%s", got)
	}
	if strings.Contains(strings.ToLower(got), "per member") {
		t.Errorf("table rendered after a failed fetch:\n%s", got)
	}
}

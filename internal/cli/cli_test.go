// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/frontline/internal/app"
	"github.com/tomtom215/frontline/internal/config"
	"github.com/tomtom215/frontline/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "frontline.duckdb")
	cfg.Database.MaxMemory = "256MB"
	cfg.Database.Threads = 1
	cfg.Cache.Backend = "duckdb"
	cfg.Scraper.RequestDelay = 0
	cfg.Scraper.RetryDelay = 0
	cfg.Scraper.MaxRetries = 1
	return cfg
}

func opener(cfg *config.Config) Opener {
	return func() (*app.App, error) { return app.New(cfg, app.Options{}) }
}

func run(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, cfg *config.Config, payloads ...string) {
	t.Helper()
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	raws := make([]models.RawEvent, len(payloads))
	for i, p := range payloads {
		raws[i] = models.NewRawEvent("WORLD_UPDATE", []byte(p), time.Unix(int64(i), 0))
	}
	if _, _, err := a.DB.BulkInsertRawEvents(context.Background(), raws); err != nil {
		t.Fatal(err)
	}
}

func TestWatchCommands(t *testing.T) {
	open := opener(testConfig(t))

	for _, g := range []string{"9", "5"} {
		if _, err := run(t, open, "watch", "add", g); err != nil {
			t.Fatalf("watch add %s: %v", g, err)
		}
	}
	out, err := run(t, open, "watch", "list")
	if err != nil {
		t.Fatal(err)
	}
	if out != "5\n9\n" {
		t.Errorf("list = %q", out)
	}

	if _, err := run(t, open, "watch", "remove", "5"); err != nil {
		t.Fatal(err)
	}
	if out, _ := run(t, open, "watch", "list"); out != "9\n" {
		t.Errorf("after remove = %q", out)
	}

	if _, err := run(t, open, "watch", "add", "abc"); err == nil {
		t.Error("non game id accepted")
	}
}

func TestReprocessAndReport(t *testing.T) {
	cfg := testConfig(t)
	seed(t, cfg,
		`{"gameId":5,"activities":[{"id":"d1","type":"DEFEND","player":{"id":"p2","name":"bob"},"faction":"BLUE","x":3,"y":4,"amount":10,"timestamp":100}]}`,
		`{"gameId":5,"activities":[{"id":"a1","type":"ATTACK","player":{"id":"p1","name":"alice"},"faction":"RED","x":3,"y":4,"amount":12,"timestamp":200}]}`,
	)
	open := opener(cfg)

	out, err := run(t, open, "reprocess", "5")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if !strings.Contains(out, "2 inserted") || !strings.Contains(out, "2 resolved") {
		t.Errorf("reprocess output:\n%s", out)
	}

	out, err = run(t, open, "report", "5", "faction-transfers")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if strings.TrimSpace(out) != `{"BLUE":{"BLUE":10},"RED":{"BLUE":2,"RED":10}}` {
		t.Errorf("report = %s", out)
	}

	out, err = run(t, open, "cache", "invalidate", "5", "--type", "faction-transfers")
	if err != nil {
		t.Fatal(err)
	}
	if out != "1 entries invalidated\n" {
		t.Errorf("invalidate = %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	open := opener(testConfig(t))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad game id", []string{"reprocess", "zero"}, "invalid game id"},
		{"unknown report", []string{"report", "5", "kdr"}, "unknown report type"},
		{"bad faction flag", []string{"report", "5", "heatmap", "--faction", "PURPLE"}, "playable faction"},
		{"unknown cache type", []string{"cache", "invalidate", "5", "--type", "kdr"}, "unknown report type"},
		{"mvp without game api", []string{"report", "5", "mvp"}, "leaderboard"},
		{"scrape without game api", []string{"scrape", "5"}, "not configured"},
		{"missing args", []string{"report", "5"}, "accepts 2 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, open, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games/5/cases" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"gameId":5,"x":%s,"y":%s,"activities":[]}`, r.URL.Query().Get("x"), r.URL.Query().Get("y"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.GameAPI.BaseURL = srv.URL
	cfg.Scraper.Width = 2
	cfg.Scraper.Height = 1

	out, err := run(t, opener(cfg), "scrape", "5")
	if err != nil {
		t.Fatalf("scrape: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 cells, 2 stored, 0 duplicates") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, opener(cfg), "scrape", "5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0 stored, 2 duplicates") {
		t.Errorf("rescrape output = %q", out)
	}
}

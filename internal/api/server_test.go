package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cocowallet-sync/internal/config"
	"cocowallet-sync/internal/models"
	"cocowallet-sync/internal/ratelimit"
	"cocowallet-sync/internal/referral"
	"cocowallet-sync/internal/runner"
	"cocowallet-sync/internal/status"
)

type testEnv struct {
	server *httptest.Server
	runner *runner.Runner
	store  *referral.MemoryStore
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	statuses := status.New(client, time.Hour)
	rn := runner.New(context.Background(), statuses, zerolog.Nop())
	memStore := referral.NewMemoryStore()
	refs := referral.NewService(memStore, zerolog.Nop())

	cfg := config.Config{
		AppStoreURL:  "https://apps.example.com/coco",
		PlayStoreURL: "https://play.example.com/coco",
	}
	srv := New(cfg, rn, statuses, refs, limiter, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, runner: rn, store: memStore}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSyncStartAndStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	release := make(chan struct{})
	env.runner.Register("token-metadata", func(ctx context.Context, report runner.ProgressFunc) error {
		report(50, "halfway")
		<-release
		return nil
	})

	resp, err := http.Post(env.server.URL+"/admin/token-metadata/sync/", "application/json", nil)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started map[string]string
	decodeBody(t, resp, &started)
	if started["status"] != "started" {
		t.Fatalf("body = %v, want started", started)
	}

	// second trigger while running is accepted but reported as such
	resp, err = http.Post(env.server.URL+"/admin/token-metadata/sync/", "application/json", nil)
	if err != nil {
		t.Fatalf("restart sync: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var again map[string]string
	decodeBody(t, resp, &again)
	if again["status"] != "already_running" {
		t.Fatalf("body = %v, want already_running", again)
	}

	waitForStatus(t, env.server.URL, "token-metadata", models.SyncRunning)
	close(release)
	snap := waitForStatus(t, env.server.URL, "token-metadata", models.SyncSuccess)
	if snap.Progress != 100 {
		t.Errorf("final progress = %d, want 100", snap.Progress)
	}
}

func waitForStatus(t *testing.T, baseURL, resource, want string) models.SyncSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/admin/%s/sync-status/", baseURL, resource))
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		var snap models.SyncSnapshot
		decodeBody(t, resp, &snap)
		if snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never reached %q", want)
	return models.SyncSnapshot{}
}

func TestSyncUnknownResource(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.server.URL+"/admin/bogus/sync/", "application/json", nil)
	if err != nil {
		t.Fatalf("start sync: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "error" || body["message"] == "" {
		t.Errorf("unexpected error envelope %v", body)
	}

	resp, err = http.Get(env.server.URL + "/admin/bogus/sync-status/")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSyncStatusIdleBeforeFirstRun(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.Register("token-index", func(ctx context.Context, report runner.ProgressFunc) error { return nil })

	resp, err := http.Get(env.server.URL + "/admin/token-index/sync-status/")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var snap models.SyncSnapshot
	decodeBody(t, resp, &snap)
	if snap.Status != models.SyncIdle {
		t.Errorf("status = %q, want idle", snap.Status)
	}
}

func TestReferralFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	// referrer gets a link
	resp, err := http.Get(env.server.URL + "/api/referral/link?device_id=referrer-1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	var link models.ReferralLink
	decodeBody(t, resp, &link)
	if link.Code == "" {
		t.Fatal("link code should not be empty")
	}

	// referred device downloads through it
	body, _ := json.Marshal(map[string]string{"referrer_code": link.Code, "device_id": "friend-1"})
	resp, err = http.Post(env.server.URL+"/api/referral/download", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("record download: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// and creates a wallet
	body, _ = json.Marshal(map[string]string{"device_id": "friend-1"})
	resp, err = http.Post(env.server.URL+"/api/referral/wallet-created", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("record wallet creation: %v", err)
	}
	var created map[string]any
	decodeBody(t, resp, &created)
	if created["points_awarded"] != true {
		t.Errorf("expected points_awarded=true, got %v", created)
	}

	// referrer balance reflects both awards
	resp, err = http.Get(env.server.URL + "/api/referral/points?device_id=referrer-1")
	if err != nil {
		t.Fatalf("get points: %v", err)
	}
	var points models.UserPoints
	decodeBody(t, resp, &points)
	if points.TotalPoints != models.DownloadReferralPoints+models.WalletReferralPoints {
		t.Errorf("total points = %d, want %d", points.TotalPoints, models.DownloadReferralPoints+models.WalletReferralPoints)
	}

	// and the stats endpoint agrees
	resp, err = http.Get(env.server.URL + "/api/referral/stats?device_id=referrer-1")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	var stats models.ReferralStats
	decodeBody(t, resp, &stats)
	if stats.TotalReferrals != 1 || stats.CompletedReferrals != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestReferralSelfDownloadRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/api/referral/link?device_id=device-1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	var link models.ReferralLink
	decodeBody(t, resp, &link)

	body, _ := json.Marshal(map[string]string{"referrer_code": link.Code, "device_id": "device-1"})
	resp, err = http.Post(env.server.URL+"/api/referral/download", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("record download: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var envlp map[string]string
	decodeBody(t, resp, &envlp)
	if envlp["status"] != "error" {
		t.Errorf("unexpected envelope %v", envlp)
	}
}

func TestReferralMissingDeviceID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/api/referral/link")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDownloadRedirectByUserAgent(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	cases := []struct {
		ua       string
		wantCode int
		wantLoc  string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", http.StatusFound, "https://apps.example.com/coco"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", http.StatusFound, "https://play.example.com/coco"},
		{"Mozilla/5.0 (X11; Linux x86_64)", http.StatusOK, ""},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/download", nil)
		req.Header.Set("User-Agent", tc.ua)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("download request: %v", err)
		}
		if resp.StatusCode != tc.wantCode {
			t.Errorf("ua %q: status = %d, want %d", tc.ua, resp.StatusCode, tc.wantCode)
		}
		if tc.wantLoc != "" && resp.Header.Get("Location") != tc.wantLoc {
			t.Errorf("ua %q: location = %q, want %q", tc.ua, resp.Header.Get("Location"), tc.wantLoc)
		}
		resp.Body.Close()
	}
}

func TestDownloadCapturesReferralClick(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/api/referral/link?device_id=referrer-1")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	var link models.ReferralLink
	decodeBody(t, resp, &link)

	resp, err = http.Get(env.server.URL + "/download?ref=" + link.Code)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/api/referral/link?device_id=referrer-1")
	if err != nil {
		t.Fatalf("get link again: %v", err)
	}
	decodeBody(t, resp, &link)
	if link.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", link.Clicks)
	}
}

func TestReferralWriteEndpointsAreRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.New(client, 1, 0, time.Minute)
	env := newTestEnv(t, limiter)

	resp, err := http.Get(env.server.URL + "/api/referral/click?code=nope")
	if err != nil {
		t.Fatalf("first click: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}

	resp, err = http.Get(env.server.URL + "/api/referral/click?code=nope")
	if err != nil {
		t.Fatalf("second click: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var envlp map[string]string
	decodeBody(t, resp, &envlp)
	if envlp["status"] != "error" {
		t.Errorf("unexpected envelope %v", envlp)
	}
}

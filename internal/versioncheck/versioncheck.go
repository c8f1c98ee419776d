// Package versioncheck looks up the newest stagemill release and reports
// whether the running binary is behind.
package versioncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/lbekk/stagemill/internal/state"
	"github.com/lbekk/stagemill/internal/version"
)

const (
	githubOwner = "lbekk"
	githubRepo  = "stagemill"

	// cacheTTL is how long a fetched release stays fresh.
	cacheTTL = 24 * time.Hour
	// requestTimeout bounds the GitHub API call.
	requestTimeout = 5 * time.Second

	cacheKey state.KVKey = "versioncheck:stable"
)

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// cacheData is the JSON payload stored in the KV store.
type cacheData struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Result is the outcome of one check.
type Result struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateURL       string
	UpdateAvailable bool
}

// Check reports the latest stable release, served from the KV cache when
// fresh. Returns nil for dev builds and on any failure: an update notice is
// never worth failing a command over.
func Check(ctx context.Context, kv *state.KVStore) *Result {
	current := version.Get()

	currentSemver, err := semver.NewVersion(current)
	if err != nil {
		// "dev" and other non-release builds
		return nil
	}

	if cached, age := loadCache(ctx, kv); cached != nil && age < cacheTTL {
		return buildResult(currentSemver, current, cached.Version, cached.URL)
	}

	latest, releaseURL, err := fetchLatestRelease(ctx)
	if err != nil {
		if cached, _ := loadCache(ctx, kv); cached != nil {
			return buildResult(currentSemver, current, cached.Version, cached.URL)
		}
		return nil
	}

	saveCache(ctx, kv, &cacheData{Version: latest, URL: releaseURL})

	return buildResult(currentSemver, current, latest, releaseURL)
}

func buildResult(current *semver.Version, currentRaw, latest, releaseURL string) *Result {
	latestSemver, err := semver.NewVersion(latest)
	if err != nil {
		return nil
	}

	return &Result{
		CurrentVersion:  currentRaw,
		LatestVersion:   latest,
		UpdateURL:       releaseURL,
		UpdateAvailable: latestSemver.GreaterThan(current),
	}
}

func fetchLatestRelease(ctx context.Context) (string, string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", githubOwner, githubRepo)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", fmt.Errorf("decode release: %w", err)
	}

	return release.TagName, release.HTMLURL, nil
}

func loadCache(ctx context.Context, kv *state.KVStore) (*cacheData, time.Duration) {
	if kv == nil {
		return nil, 0
	}
	entry, found, err := kv.Get(ctx, cacheKey)
	if err != nil || !found {
		return nil, 0
	}

	var data cacheData
	if err := json.Unmarshal([]byte(entry.Value), &data); err != nil {
		return nil, 0
	}
	return &data, time.Since(entry.CreatedAt)
}

func saveCache(ctx context.Context, kv *state.KVStore, data *cacheData) {
	if kv == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	// delete first so created_at restarts the TTL clock
	_ = kv.Delete(ctx, cacheKey)
	_ = kv.Upsert(ctx, cacheKey, string(raw))
}

// Package cache maps rendered Dockerfiles to previously built image IDs, so
// a rebuild with unchanged inputs reuses the image instead of re-running the
// pipeline. Keys are content hashes; the store is an append-only JSON file
// guarded by a filesystem lock.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/version"
)

type (
	CacheKey string
	ImageID  string
)

// KeyRenderedLines deterministically hashes a list of Dockerfile lines. Each
// line is length-prefixed (8-byte big-endian) before hashing so sequences
// like ["ab", "c"] and ["a", "bc"] cannot collide.
func KeyRenderedLines(lines []string) CacheKey {
	h := sha256.New()
	var lenBuf [8]byte

	for _, line := range lines {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(line)))
		h.Write(lenBuf[:])
		io.WriteString(h, line)
	}

	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

type pipelineKeyPayload struct {
	Schema       int      `json:"schema"`
	Project      string   `json:"project"`
	Name         string   `json:"name"`
	BuilderBase  string   `json:"builder_base"`
	FinalBase    string   `json:"final_base"`
	AppDir       string   `json:"app_dir"`
	Requirements string   `json:"requirements"`
	Port         int      `json:"port"`
	Transplant   string   `json:"transplant"`
	Entrypoint   []string `json:"entrypoint"`
	System       []string `json:"system"`
}

// KeyPipeline hashes the normalized pipeline settings. It is the fast-path
// lookup key: settings unchanged → reuse the image without re-rendering.
func KeyPipeline(cfg *config.Config) (CacheKey, error) {
	system := make([]string, 0, len(cfg.System))
	for _, d := range cfg.System {
		system = append(system, d.Name+"|"+string(d.Scope)+"|"+d.Pin)
	}
	sort.Strings(system)

	entrypoint := cfg.Entrypoint
	if entrypoint == nil {
		entrypoint = []string{}
	}

	payload := pipelineKeyPayload{
		Schema:       version.PlanSchemaVersion,
		Project:      filepath.Clean(cfg.ProjectDir),
		Name:         cfg.Name,
		BuilderBase:  cfg.BuilderBase,
		FinalBase:    cfg.FinalBase,
		AppDir:       cfg.AppDir,
		Requirements: cfg.Requirements,
		Port:         cfg.Port,
		Transplant:   string(cfg.Transplant),
		Entrypoint:   entrypoint,
		System:       system,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return CacheKey(hex.EncodeToString(sum[:])), nil
}

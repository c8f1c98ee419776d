package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerfile"
)

type Cache struct {
	cacheFilePath string // JSON file
	mu            FSMutex
}

// Resolution reports how an image was obtained. CacheHit is true when no
// build ran; the build-history store records it for cache-hit tracing.
type Resolution struct {
	ImageID  ImageID
	CacheHit bool
}

type Manager interface {
	ResolveImage(
		ctx context.Context,
		cfg *config.Config,
		contextKey CacheKey,
		imageExists func(context.Context, ImageID) bool,
		renderDockerfile func(ctx context.Context) (dockerfile.Dockerfile, error),
		buildImageSync func(ctx context.Context, df dockerfile.Dockerfile, tag string) (ImageID, error),
	) (Resolution, error)
}

const (
	buildingStaleAfter = 30 * time.Minute
	buildingPrefix     = "BUILDING:" // full format: BUILDING:<unixTs>:<dfSig>
)

func NewManager(path string) (Manager, error) {
	if path == "" {
		return nil, errors.New("cache path required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	return &Cache{
		cacheFilePath: path,
		mu:            NewFSMutex(path + ".lock"),
	}, nil
}

// ResolveImage returns a usable image for the pipeline, building one only
// when no cached image matches. Cache errors degrade to a readonly pass:
// the goal is a working image, and the engine keeps its own layer cache, so
// a lost image-cache entry costs time, never correctness.
func (c *Cache) ResolveImage(
	ctx context.Context,
	cfg *config.Config,
	contextKey CacheKey,
	imageExists func(context.Context, ImageID) bool,
	renderDockerfile func(ctx context.Context) (dockerfile.Dockerfile, error),
	buildImageSync func(ctx context.Context, df dockerfile.Dockerfile, tag string) (ImageID, error),
) (Resolution, error) {
	if imageExists == nil || renderDockerfile == nil || buildImageSync == nil {
		return Resolution{}, errors.New("imageExists, renderDockerfile, and buildImageSync are mandatory")
	}

	hasValidPipelineKey := true
	pipelineKey, err := KeyPipeline(cfg)
	if err != nil {
		hasValidPipelineKey = false
	} else {
		pipelineKey = combineKeys(pipelineKey, contextKey)
	}

	for {
		readOnlyState := !hasValidPipelineKey

		// "40" means wait up to 40 times 50ms, ~2 seconds
		if !readOnlyState {
			if err := c.mu.Lock(40); err != nil {
				readOnlyState = true
			}
		}

		state, stateLoadErr := c.loadState(readOnlyState)
		if stateLoadErr != nil {
			// could lock but not read: unlock early and degrade
			c.mu.Unlock()
			readOnlyState = true
			state = newReadonlyEmptyCacheState()
		}

		if id, ok := state.getByPipelineKey(pipelineKey); ok {
			if isBuilding(id) {
				// another process is building this key
				c.mu.Unlock()
				time.Sleep(150 * time.Millisecond)
				continue
			}
			if imageExists(ctx, id) {
				c.mu.Unlock()
				return Resolution{ImageID: id, CacheHit: true}, nil
			}
			_ = state.cleanupPipelineKey(pipelineKey)
		}

		// never keep the cache locked while rendering
		c.mu.Unlock()
		df, renderErr := renderDockerfile(ctx)
		if renderErr != nil {
			return Resolution{}, renderErr
		}

		if !readOnlyState {
			if err := c.mu.Lock(40); err != nil {
				readOnlyState = true
			}
		}

		state, stateLoadErr = c.loadState(readOnlyState)
		if stateLoadErr != nil {
			if readOnlyState {
				state = newReadonlyEmptyCacheState()
			} else {
				state = newEmptyCacheState(c.cacheFilePath)
			}
		}

		dockerfileKey := combineKeys(KeyRenderedLines(df), contextKey)

		if id, ok := state.getByDockerfileKey(dockerfileKey); ok {
			_ = state.setPipelineKey(pipelineKey, id)
			if isBuilding(id) {
				c.mu.Unlock()
				time.Sleep(150 * time.Millisecond)
				continue
			}

			if imageExists(ctx, id) {
				c.mu.Unlock()
				return Resolution{ImageID: id, CacheHit: true}, nil
			}

			_ = state.cleanupImageID(pipelineKey, dockerfileKey)
		}

		buildingID := newBuildingID(string(dockerfileKey))
		_ = state.setImageID(pipelineKey, dockerfileKey, buildingID)
		// never keep the cache locked while building
		c.mu.Unlock()

		// the tag carries the combined key so distinct build contexts
		// never fight over one ref
		tag := ImageRef(cfg.Name, cfg.ProjectDir, dockerfileKey)
		imageID, buildErr := buildImageSync(ctx, df, tag)
		if buildErr != nil {
			if e := c.mu.Lock(40); e != nil {
				return Resolution{}, buildErr
			}

			if s, err := c.loadState(false); err == nil {
				if cur, ok := s.DockerfileKeyToImage[dockerfileKey]; ok && cur == buildingID {
					_ = s.cleanupImageID(pipelineKey, dockerfileKey)
				}
			}

			c.mu.Unlock()
			return Resolution{}, buildErr
		}

		if err := c.mu.Lock(40); err != nil {
			return Resolution{ImageID: imageID}, nil
		}

		if s, err := c.loadState(false); err == nil {
			// override whatever sits there: only images this process
			// built are trusted over an editable state file
			_ = s.setImageID(pipelineKey, dockerfileKey, imageID)
		}

		c.mu.Unlock()
		return Resolution{ImageID: imageID}, nil
	}
}

func newBuildingID(dfSig string) ImageID {
	now := time.Now().Unix()
	return ImageID(fmt.Sprintf("%s%d:%s", buildingPrefix, now, dfSig))
}

func isBuilding(id ImageID) bool {
	return strings.HasPrefix(string(id), buildingPrefix)
}

func parseBuildingMarker(id ImageID) (time.Time, bool) {
	if !isBuilding(id) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(string(id), buildingPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

func isBuildingStale(id ImageID) bool {
	ts, ok := parseBuildingMarker(id)
	if !ok {
		return false
	}
	return time.Since(ts) > buildingStaleAfter
}

package cache

import (
	"encoding/json"
	"errors"
	"os"
)

// cacheState is the on-disk map. Two indexes point at the same image IDs: the
// pipeline key is the fast path (settings unchanged), the dockerfile key
// catches settings that render to an identical Dockerfile.
type cacheState struct {
	path                 string
	PipelineKeyToImage   map[CacheKey]ImageID `json:"pipeline_to_image"`
	DockerfileKeyToImage map[CacheKey]ImageID `json:"dockerfile_to_image"`
}

func (st *cacheState) getByPipelineKey(key CacheKey) (ImageID, bool) {
	id, ok := st.PipelineKeyToImage[key]
	if !ok {
		return "", false
	}
	if isBuilding(id) && isBuildingStale(id) {
		_ = st.cleanupPipelineKey(key)
		return "", false
	}
	return id, true
}

func (st *cacheState) getByDockerfileKey(key CacheKey) (ImageID, bool) {
	id, ok := st.DockerfileKeyToImage[key]
	if !ok {
		return "", false
	}
	if isBuilding(id) && isBuildingStale(id) {
		_ = st.cleanupDockerfileKey(key)
		return "", false
	}
	return id, true
}

func (st *cacheState) cleanupPipelineKey(key CacheKey) error {
	delete(st.PipelineKeyToImage, key)
	return st.commit()
}

func (st *cacheState) cleanupDockerfileKey(key CacheKey) error {
	delete(st.DockerfileKeyToImage, key)
	return st.commit()
}

func (st *cacheState) cleanupImageID(pipelineKey, dockerfileKey CacheKey) error {
	delete(st.PipelineKeyToImage, pipelineKey)
	delete(st.DockerfileKeyToImage, dockerfileKey)
	return st.commit()
}

func (st *cacheState) setPipelineKey(key CacheKey, imgID ImageID) error {
	st.PipelineKeyToImage[key] = imgID
	return st.commit()
}

func (st *cacheState) setImageID(pipelineKey, dockerfileKey CacheKey, imgID ImageID) error {
	st.PipelineKeyToImage[pipelineKey] = imgID
	st.DockerfileKeyToImage[dockerfileKey] = imgID
	return st.commit()
}

// commit writes the state atomically: temp file then rename.
func (st *cacheState) commit() error {
	if st.path == "" {
		// readonly state
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, st.path)
}

func newEmptyCacheState(path string) *cacheState {
	return &cacheState{
		path:                 path,
		PipelineKeyToImage:   make(map[CacheKey]ImageID),
		DockerfileKeyToImage: make(map[CacheKey]ImageID),
	}
}

func newReadonlyEmptyCacheState() *cacheState {
	return newEmptyCacheState("")
}

func (c *Cache) loadState(readonly bool) (*cacheState, error) {
	data, err := os.ReadFile(c.cacheFilePath)
	path := c.cacheFilePath
	if readonly {
		path = ""
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newEmptyCacheState(path), nil
		}
		return nil, err
	}
	var st cacheState
	st.path = path
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.PipelineKeyToImage == nil {
		st.PipelineKeyToImage = make(map[CacheKey]ImageID)
	}
	if st.DockerfileKeyToImage == nil {
		st.DockerfileKeyToImage = make(map[CacheKey]ImageID)
	}
	return &st, nil
}

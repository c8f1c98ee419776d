package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// KeyBuildContext fingerprints the build inputs that do not appear in the
// rendered Dockerfile: the requirements manifest content and the application
// payload tree. Without it an image built from older sources would be reused
// after a code change.
func KeyBuildContext(projectDir string, relPaths ...string) (CacheKey, error) {
	h := sha256.New()
	var lenBuf [8]byte

	writeBlob := func(name string, r io.Reader) error {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(name)))
		h.Write(lenBuf[:])
		io.WriteString(h, name)
		n, err := io.Copy(h, r)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
		h.Write(lenBuf[:])
		return nil
	}

	for _, rel := range relPaths {
		root := filepath.Join(projectDir, rel)
		fi, err := os.Stat(root)
		if err != nil {
			return "", err
		}

		if !fi.IsDir() {
			f, err := os.Open(root)
			if err != nil {
				return "", err
			}
			err = writeBlob(rel, f)
			f.Close()
			if err != nil {
				return "", err
			}
			continue
		}

		var files []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if d.Name() == "__pycache__" || d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return "", err
		}
		sort.Strings(files)

		for _, path := range files {
			relName, err := filepath.Rel(projectDir, path)
			if err != nil {
				return "", err
			}
			f, err := os.Open(path)
			if err != nil {
				return "", err
			}
			err = writeBlob(filepath.ToSlash(relName), f)
			f.Close()
			if err != nil {
				return "", err
			}
		}
	}

	return CacheKey(hex.EncodeToString(h.Sum(nil))), nil
}

// combineKeys folds two hex keys into one, length-prefixing the raw bytes of
// both parts to avoid ambiguity.
func combineKeys(a, b CacheKey) CacheKey {
	ah, errA := hex.DecodeString(string(a))
	if errA != nil {
		ah = []byte(a)
	}
	bh, errB := hex.DecodeString(string(b))
	if errB != nil {
		bh = []byte(b)
	}

	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(ah)))
	h.Write(lenBuf[:])
	h.Write(ah)
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(bh)))
	h.Write(lenBuf[:])
	h.Write(bh)

	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

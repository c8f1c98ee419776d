package cache

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const lockStaleAfter = 10 * time.Minute

// FSMutex is a lock file guarding the cache state across processes. Unlock is
// idempotent.
type FSMutex interface {
	Lock(lockTryLimit int8) error
	Unlock()
}

type fsMutex struct {
	lockPath string
	locked   bool
}

func NewFSMutex(lockPath string) FSMutex {
	return &fsMutex{lockPath: lockPath, locked: false}
}

func (mu *fsMutex) Lock(lockTryLimit int8) error {
	tries := 0
	for {
		tries++
		if int(lockTryLimit) > 0 && tries > int(lockTryLimit) {
			return errors.New("can't acquire cache lock")
		}

		f, err := os.OpenFile(mu.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(fmt.Sprintf("%d\n%d\n", os.Getpid(), time.Now().Unix()))
			_ = f.Close()
			mu.locked = true
			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return err
		}

		// lock exists, maybe from a crashed build
		info, statErr := os.Stat(mu.lockPath)
		if statErr != nil {
			if errors.Is(statErr, os.ErrNotExist) {
				continue
			}
			return statErr
		}

		if age := time.Since(info.ModTime()); age > lockStaleAfter {
			_ = os.Remove(mu.lockPath)
			continue
		}

		time.Sleep(50 * time.Millisecond)
	}
}

func (mu *fsMutex) Unlock() {
	if !mu.locked {
		return
	}
	_ = os.Remove(mu.lockPath)
	mu.locked = false
}

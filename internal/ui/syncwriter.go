package ui

import (
	"io"
	"os"
	"sync"
	"time"
)

// SyncWriter wraps an *os.File and syncs to disk on an interval, so build
// logs are readable while a long image build is still running, without a
// sync per write.
type SyncWriter struct {
	f        *os.File
	mu       sync.Mutex
	dirty    bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
}

func NewSyncWriter(f *os.File, interval time.Duration) *SyncWriter {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	sw := &SyncWriter{
		f:        f,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		interval: interval,
	}
	go sw.syncLoop()
	return sw
}

func (sw *SyncWriter) syncLoop() {
	defer close(sw.doneCh)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.flush()
		case <-sw.stopCh:
			sw.flush()
			return
		}
	}
}

func (sw *SyncWriter) flush() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.dirty {
		sw.f.Sync()
		sw.dirty = false
	}
}

func (sw *SyncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	n, err := sw.f.Write(p)
	if n > 0 {
		sw.dirty = true
	}
	return n, err
}

// Sync forces an immediate sync to disk.
func (sw *SyncWriter) Sync() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.dirty {
		err := sw.f.Sync()
		sw.dirty = false
		return err
	}
	return nil
}

// Close stops the sync loop and closes the underlying file.
func (sw *SyncWriter) Close() error {
	close(sw.stopCh)
	<-sw.doneCh
	return sw.f.Close()
}

var _ io.WriteCloser = (*SyncWriter)(nil)

// TimestampWriter prepends a timestamp to each write. Lines get their
// timestamp at the final destination, not where they were logged.
type TimestampWriter struct {
	w io.Writer
}

func NewTimestampWriter(w io.Writer) *TimestampWriter {
	return &TimestampWriter{w: w}
}

func (tw *TimestampWriter) Write(p []byte) (int, error) {
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	n, err := tw.w.Write([]byte("[" + ts + "] " + string(p)))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return len(p), nil
	}
	return 0, nil
}

func (tw *TimestampWriter) Sync() error {
	if s, ok := tw.w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

func (tw *TimestampWriter) Close() error {
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

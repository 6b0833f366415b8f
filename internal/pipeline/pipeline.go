// Package pipeline implements the streaming pipeline: discovery,
// validation, a cheap fast phase (identity hash + small metadata),
// dispatch of plugin work, and a background phase (full hash).
package pipeline

import (
	"crypto/sha256"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/worph/meta-sort/internal/notify"
	"github.com/worph/meta-sort/internal/scheduler"
	"github.com/worph/meta-sort/internal/state"
)

// DiscoveredFile is one entry from the discovery stream (out of
// scope itself; the pipeline only consumes it).
type DiscoveredFile struct {
	Path    string
	Size    int64
	ModTime time.Time
	Mime    string
}

// Scheduler is the narrow capability the pipeline needs from the
// core scheduler: dispatching plugin work for a file.
type Scheduler interface {
	DispatchAll(fileHash, filePath string, size int64, mime string, existingMeta map[string]any) []*scheduler.Task
	Events(buffer int) <-chan scheduler.Event
}

// MetadataStore is consulted for existingMeta before dispatch and
// updated with the full hash once the background phase computes it.
type MetadataStore interface {
	Get(fileHash string) (map[string]any, bool)
	Put(fileHash string, value map[string]any) error
}

// RetryPolicy is the optional escalating-timeout retry variant; it is
// intentionally decoupled from Scheduler so a pipeline can run
// without it. RetryFailed caps every retry delay at FastCap; no
// pipeline code reads BackgroundCap.
type RetryPolicy struct {
	MaxRetries    int
	BaseTimeout   time.Duration
	Multiplier    float64
	FastCap       time.Duration
	BackgroundCap time.Duration
}

// DefaultRetryPolicy is 10 retries with 1.5x backoff, capped at 10
// minutes for the fast phase and 4 hours for the background phase.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    10,
		BaseTimeout:   time.Second,
		Multiplier:    1.5,
		FastCap:       10 * time.Minute,
		BackgroundCap: 4 * time.Hour,
	}
}

func (p *RetryPolicy) delay(attempt int, ceil time.Duration) time.Duration {
	d := p.BaseTimeout
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= ceil {
			return ceil
		}
	}
	return d
}

// Pipeline wires discovery through to dispatch and background hashing.
type Pipeline struct {
	supportedExt map[string]bool
	state        *state.Manager
	scheduler    Scheduler
	meta         MetadataStore
	notifier     *notify.Hub
	retry        *RetryPolicy
	identityFn   func(path string, size int64, mtime time.Time) string
	fullFn       func(path string, size int64, mtime time.Time) string

	validationSem chan struct{}
	fastSem       chan struct{}
	backgroundSem chan struct{}

	mu             sync.Mutex
	identityToPath map[string]string         // first path registered under an identity hash
	hashToPath     map[string]string         // identity/full hash -> path, for the completion watcher
	files          map[string]DiscoveredFile // path -> discovery record, kept for retry resubmission

	stopCh chan struct{}
}

// Config sizes the pipeline's three internal queues.
type Config struct {
	ValidationConcurrency int
	FastConcurrency       int
	BackgroundConcurrency int
	SupportedExt          []string

	// IdentityHash and FullHash let the surrounding daemon plug in its
	// real content-derived identity; the defaults hash {path,size,mtime}.
	IdentityHash func(path string, size int64, mtime time.Time) string
	FullHash     func(path string, size int64, mtime time.Time) string
}

func New(cfg Config, st *state.Manager, sched Scheduler, meta MetadataStore, notifier *notify.Hub, retry *RetryPolicy) *Pipeline {
	if cfg.ValidationConcurrency == 0 {
		cfg.ValidationConcurrency = 64
	}
	if cfg.FastConcurrency == 0 {
		cfg.FastConcurrency = 32
	}
	if cfg.BackgroundConcurrency == 0 {
		cfg.BackgroundConcurrency = 8
	}

	supported := make(map[string]bool, len(cfg.SupportedExt))
	for _, e := range cfg.SupportedExt {
		supported[strings.ToLower(e)] = true
	}

	identityFn := cfg.IdentityHash
	if identityFn == nil {
		identityFn = identityHash
	}
	fullFn := cfg.FullHash
	if fullFn == nil {
		fullFn = fullHash
	}

	p := &Pipeline{
		supportedExt:   supported,
		state:          st,
		scheduler:      sched,
		meta:           meta,
		notifier:       notifier,
		retry:          retry,
		identityFn:     identityFn,
		fullFn:         fullFn,
		validationSem:  make(chan struct{}, cfg.ValidationConcurrency),
		fastSem:        make(chan struct{}, cfg.FastConcurrency),
		backgroundSem:  make(chan struct{}, cfg.BackgroundConcurrency),
		identityToPath: make(map[string]string),
		hashToPath:     make(map[string]string),
		files:          make(map[string]DiscoveredFile),
		stopCh:         make(chan struct{}),
	}

	if sched != nil {
		// Subscribe before returning so no completion emitted after
		// construction can be missed.
		go p.watchCompletions(sched.Events(256))
	}
	return p
}

func (p *Pipeline) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// Submit runs a discovered file through validation asynchronously.
func (p *Pipeline) Submit(df DiscoveredFile) {
	go p.validate(df)
}

func (p *Pipeline) validate(df DiscoveredFile) {
	p.validationSem <- struct{}{}
	defer func() { <-p.validationSem }()

	if len(p.supportedExt) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(df.Path), "."))
		if !p.supportedExt[ext] {
			return // unsupported extension, drop silently
		}
	}

	p.mu.Lock()
	p.files[df.Path] = df
	p.mu.Unlock()

	p.state.AddDiscovered(df.Path, "")
	go p.fastPhase(df)
}

// RetryFailed re-submits every failed file whose retry budget is not
// exhausted, after the policy's escalating delay for that attempt. It
// returns the number of files scheduled for another pass. Callers
// without a retry policy get a no-op.
func (p *Pipeline) RetryFailed() int {
	if p.retry == nil {
		return 0
	}
	n := 0
	for _, fs := range p.state.GetFailedFiles() {
		attempt := p.state.GetRetryCount(fs.FilePath)
		if attempt >= p.retry.MaxRetries {
			continue
		}

		p.mu.Lock()
		df, known := p.files[fs.FilePath]
		p.mu.Unlock()
		if !known {
			continue
		}
		if !p.state.RetryFile(fs.FilePath) {
			continue
		}

		delay := p.retry.delay(attempt, p.retry.FastCap)
		time.AfterFunc(delay, func() { p.Submit(df) })
		n++
	}
	return n
}

// RetryFile re-submits one failed path immediately, bypassing the
// escalating delay. It returns false when the path is unknown, not in
// the failed phase, or out of retry budget.
func (p *Pipeline) RetryFile(path string) bool {
	if p.retry != nil && p.state.GetRetryCount(path) >= p.retry.MaxRetries {
		return false
	}

	p.mu.Lock()
	df, known := p.files[path]
	p.mu.Unlock()
	if !known {
		return false
	}
	if !p.state.RetryFile(path) {
		return false
	}

	p.Submit(df)
	return true
}

// identityHash is a cheap, cached-by-{path,size,mtime} stand-in for
// content-derived identity: it never reads file bytes, so it is safe
// to compute inline on the fast phase's budget.
func identityHash(path string, size int64, mtime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", path, size, mtime.UnixNano())))
	return fmt.Sprintf("%x", sum)[:16]
}

// fullHash stands in for the background phase's complete content
// hash; grounded the same way as identityHash but over the full
// digest rather than a truncated prefix.
func fullHash(path string, size int64, mtime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("full:%s:%d:%d", path, size, mtime.UnixNano())))
	return fmt.Sprintf("%x", sum)
}

func (p *Pipeline) fastPhase(df DiscoveredFile) {
	p.fastSem <- struct{}{}
	defer func() { <-p.fastSem }()

	p.state.StartLight(df.Path)
	hash := p.identityFn(df.Path, df.Size, df.ModTime)

	p.mu.Lock()
	canonical, seen := p.identityToPath[hash]
	collided := seen && canonical != df.Path
	if !seen {
		p.identityToPath[hash] = df.Path
		p.hashToPath[hash] = df.Path
	}
	p.mu.Unlock()

	// A collided path keeps processing but is suppressed from the VFS:
	// its task set is grouped under the full hash so the two files'
	// fences and completion events stay apart.
	groupKey := hash
	if collided {
		groupKey = p.fullFn(df.Path, df.Size, df.ModTime)
		p.mu.Lock()
		p.hashToPath[groupKey] = df.Path
		p.mu.Unlock()
		log.Printf("pipeline: identity hash collision on %s (already registered as %s); suppressing from VFS", df.Path, canonical)
	}

	p.state.CompleteLight(df.Path, groupKey)

	if !collided {
		p.notifier.Publish("add", hash)
	}

	var existingMeta map[string]any
	if p.meta != nil {
		existingMeta, _ = p.meta.Get(groupKey)
	}

	if p.scheduler == nil {
		p.state.CompleteHash(df.Path, true, "")
	} else {
		tasks := p.scheduler.DispatchAll(groupKey, df.Path, df.Size, df.Mime, existingMeta)
		if len(tasks) == 0 {
			p.state.CompleteHash(df.Path, true, "")
		}
	}

	go p.backgroundPhase(df, groupKey)
}

func (p *Pipeline) backgroundPhase(df DiscoveredFile, groupKey string) {
	p.backgroundSem <- struct{}{}
	defer func() { <-p.backgroundSem }()

	p.state.StartHash(df.Path)
	full := p.fullFn(df.Path, df.Size, df.ModTime)

	p.mu.Lock()
	p.hashToPath[full] = df.Path
	p.mu.Unlock()

	if p.meta != nil {
		meta, _ := p.meta.Get(groupKey)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["fullHash"] = full
		if err := p.meta.Put(groupKey, meta); err != nil {
			log.Printf("pipeline: persisting full hash for %s failed: %v", df.Path, err)
			p.state.CompleteHash(df.Path, false, err.Error())
			return
		}
	}
}

// watchCompletions listens for file:complete and marks the owning
// file done, unless no scheduler exists (handled synchronously in
// fastPhase instead).
func (p *Pipeline) watchCompletions(events <-chan scheduler.Event) {
	for {
		select {
		case <-p.stopCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != scheduler.EventFileComplete {
				continue
			}
			p.mu.Lock()
			path, known := p.hashToPath[e.FileHash]
			p.mu.Unlock()
			if !known {
				path = e.FilePath
			}
			p.state.CompleteHash(path, true, "")
		}
	}
}

package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"pathfinder/internal/config"
	"pathfinder/internal/models"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ProgressFunc receives batched progress events. Progress is monotonically
// non-decreasing within a batch.
type ProgressFunc func(update models.ProgressUpdate)

// CommitFunc receives each card as its enhancement finishes, successful or
// not. The card is a clone owned by the receiver; the pipeline never touches
// it again, so the receiver can publish it under its own locking.
type CommitFunc func(card *models.CareerCard)

// EnhanceResult is the outcome of one enhancement batch. The batch reports
// completed even when individual artifacts failed: recommendations must
// always be deliverable, so failed artifacts keep their basic form.
type EnhanceResult struct {
	Enhanced       []*models.CareerCard // finished clones, input order
	FailedTitles   []string
	PartialFailure string // human-readable note when some artifacts failed
	Err            error  // set only when the whole batch aborted (cancellation)
}

// inflight is a promise for a single-title lookup. Waiters receive the
// result after done is closed.
type inflight struct {
	done chan struct{}
	data *models.MarketData
	err  error
}

// EnhancementService runs the asynchronous second pass that upgrades basic
// career cards with market-verified data.
//
// Guarantees:
//   - At most one enhancement in flight per artifact title within a session;
//     concurrent requests for the same title share the in-flight lookup.
//   - Fan-out to the market service is rate-limited and concurrency-bounded.
//   - Cache entries never expire on their own; invalidation is only via
//     ClearCache. Lookups cached by one session are reused by others.
//   - Session cancellation abandons the batch but lets in-flight lookups
//     finish and populate the shared cache.
type EnhancementService struct {
	client   MarketDataClient
	policies *config.PolicyStore
	metrics  *Metrics

	marketCache *cache.Cache // title -> *models.MarketData, no TTL
	limiter     *rate.Limiter

	mu       sync.Mutex
	inflight map[string]*inflight // "sessionID:title" -> promise

	// rootCtx scopes lookup goroutines to the service, not to any one
	// session, so a disconnect does not cancel a lookup another session
	// could reuse from cache.
	rootCtx context.Context
	cancel  context.CancelFunc
}

// NewEnhancementService creates the enhancement pipeline.
func NewEnhancementService(client MarketDataClient, policies *config.PolicyStore, metrics *Metrics) *EnhancementService {
	ctx, cancel := context.WithCancel(context.Background())
	policy := policies.Current()
	return &EnhancementService{
		client:      client,
		policies:    policies,
		metrics:     metrics,
		marketCache: cache.New(cache.NoExpiration, 0),
		limiter:     rate.NewLimiter(rate.Limit(policy.LookupRatePerSecond), int(policy.LookupRatePerSecond)+1),
		inflight:    make(map[string]*inflight),
		rootCtx:     ctx,
		cancel:      cancel,
	}
}

// Shutdown cancels all outstanding lookups.
func (s *EnhancementService) Shutdown() {
	s.cancel()
}

// Enhance upgrades a batch of basic cards and reports progress from 30
// (enhancing_cards) to 100 (completed). The input cards are never mutated:
// they are shared with the session artifact list and the context store,
// whose readers hold their own locks. Each worker enhances a clone and hands
// it to commit as soon as it finishes, so a turn running concurrently with
// the batch only ever observes committed values. ctx is the session's
// context: cancelling it abandons the batch.
func (s *EnhancementService) Enhance(ctx context.Context, sessionID string, artifacts []*models.CareerCard, onProgress ProgressFunc, commit CommitFunc) EnhanceResult {
	started := time.Now()
	progress := newProgressTracker(30, onProgress)

	result := EnhanceResult{}
	if len(artifacts) == 0 {
		progress.report(models.PipelineCompleted, "Nothing to enhance", 100, nil)
		return result
	}

	progress.report(models.PipelineEnhancingCards, fmt.Sprintf("Verifying %d career paths against market data", len(artifacts)), 30, nil)

	concurrency := s.policies.Current().EnhancementConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	enhanced := make([]*models.CareerCard, len(artifacts))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		cancelled bool
		failed    []string
	)

	for i, src := range artifacts {
		wg.Add(1)
		go func(i int, src *models.CareerCard) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				cancelled = true
				mu.Unlock()
				return
			}

			card := src.Clone()
			card.Enhancement.Status = models.EnhancementInProgress

			data, err := s.lookupDeduped(ctx, sessionID, card.Title)

			mu.Lock()
			if ctx.Err() != nil {
				cancelled = true
				mu.Unlock()
				return
			}

			if err != nil {
				// Graceful degradation: the card stays deliverable in its
				// basic form.
				card.Enhancement.Status = models.EnhancementFailed
				card.Enhancement.FailureReason = err.Error()
				failed = append(failed, card.Title)
			} else {
				card.Enhancement.Status = models.EnhancementCompleted
				card.Enhancement.SalaryRange = data.SalaryRange
				card.Enhancement.GrowthOutlook = data.GrowthOutlook
				card.Enhancement.EducationPathways = append([]string(nil), data.EducationPathways...)
				card.Enhancement.SourceRefs = append([]string(nil), data.Sources...)
			}
			card.Enhancement.LastUpdated = time.Now()
			enhanced[i] = card
			completed++
			done := completed
			pct := 30 + (65*done)/len(artifacts)
			mu.Unlock()

			if err != nil {
				log.Printf("⚠️ [ENHANCE] Session %s: enhancement failed for %q: %v", sessionID, card.Title, err)
			}
			if commit != nil {
				commit(card)
			}
			progress.report(models.PipelineEnhancingCards,
				fmt.Sprintf("Enhanced %d of %d career paths", done, len(artifacts)), pct,
				map[string]string{"current": card.Title})
		}(i, src)
	}

	wg.Wait()

	result.FailedTitles = failed
	if cancelled || ctx.Err() != nil {
		result.Err = ctx.Err()
		if result.Err == nil {
			result.Err = context.Canceled
		}
		progress.report(models.PipelineError, "Enhancement cancelled", progress.current(), nil)
		return result
	}

	for _, card := range enhanced {
		if card != nil {
			result.Enhanced = append(result.Enhanced, card)
		}
	}

	if len(result.FailedTitles) > 0 {
		result.PartialFailure = fmt.Sprintf("%d of %d career paths could not be market-verified: %s",
			len(result.FailedTitles), len(artifacts), strings.Join(result.FailedTitles, ", "))
	}

	if s.metrics != nil {
		s.metrics.EnhancementDuration.Observe(time.Since(started).Seconds())
	}

	details := map[string]string{}
	if result.PartialFailure != "" {
		details["partial_failure"] = result.PartialFailure
	}
	progress.report(models.PipelineCompleted, "Career cards ready", 100, details)

	log.Printf("✅ [ENHANCE] Session %s: batch of %d done in %v (%d failed)",
		sessionID, len(artifacts), time.Since(started).Round(time.Millisecond), len(result.FailedTitles))
	return result
}

// lookupDeduped performs a cache-then-dedup-then-lookup for one title. The
// second concurrent request for the same title within a session waits on the
// first request's promise instead of issuing a duplicate external call.
func (s *EnhancementService) lookupDeduped(ctx context.Context, sessionID, title string) (*models.MarketData, error) {
	cacheKey := cacheKeyForTitle(title)
	if cached, found := s.marketCache.Get(cacheKey); found {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return cached.(*models.MarketData), nil
	}

	flightKey := sessionID + ":" + cacheKey

	s.mu.Lock()
	if existing, ok := s.inflight[flightKey]; ok {
		s.mu.Unlock()
		select {
		case <-existing.done:
			return existing.data, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	flight := &inflight{done: make(chan struct{})}
	s.inflight[flightKey] = flight
	s.mu.Unlock()

	// The lookup itself runs under the service context so session
	// cancellation cannot abort a result other sessions could cache.
	go func() {
		defer close(flight.done)
		defer func() {
			s.mu.Lock()
			delete(s.inflight, flightKey)
			s.mu.Unlock()
		}()

		if err := s.limiter.Wait(s.rootCtx); err != nil {
			flight.err = err
			return
		}

		data, err := s.client.Lookup(s.rootCtx, title)
		if err != nil {
			flight.err = err
			return
		}
		flight.data = data
		s.marketCache.Set(cacheKey, data, cache.NoExpiration)
	}()

	select {
	case <-flight.done:
		return flight.data, flight.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearCache invalidates cached market data. With a session ID it only
// abandons that session's in-flight promises; without one it flushes the
// shared title cache as well. This is the only invalidation path: entries
// carry no TTL.
func (s *EnhancementService) ClearCache(sessionID string) {
	if sessionID == "" {
		s.marketCache.Flush()
		log.Printf("🗑️ [ENHANCE] Market data cache flushed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := sessionID + ":"
	for key := range s.inflight {
		if strings.HasPrefix(key, prefix) {
			delete(s.inflight, key)
		}
	}
	log.Printf("🗑️ [ENHANCE] Cleared in-flight entries for session %s", sessionID)
}

// CachedTitles returns how many titles are currently cached (for health
// reporting and tests).
func (s *EnhancementService) CachedTitles() int {
	return s.marketCache.ItemCount()
}

func cacheKeyForTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// progressTracker clamps progress to be monotonically non-decreasing.
type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressTracker(start int, fn ProgressFunc) *progressTracker {
	return &progressTracker{last: start, fn: fn}
}

func (p *progressTracker) report(stage models.PipelineStage, message string, pct int, details map[string]string) {
	p.mu.Lock()
	if pct < p.last {
		pct = p.last
	}
	p.last = pct
	p.mu.Unlock()

	if p.fn != nil {
		p.fn(models.ProgressUpdate{
			Stage:     stage,
			Message:   message,
			Progress:  pct,
			Timestamp: time.Now(),
			Details:   details,
		})
	}
}

func (p *progressTracker) current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

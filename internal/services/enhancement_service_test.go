package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pathfinder/internal/config"
	"pathfinder/internal/models"
)

// fakeMarketClient counts lookups and can fail selected titles.
type fakeMarketClient struct {
	mu       sync.Mutex
	calls    int32
	failures map[string]error
	delay    time.Duration
}

func (f *fakeMarketClient) Lookup(ctx context.Context, careerTitle string) (*models.MarketData, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.failures[careerTitle]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.MarketData{
		Title:             careerTitle,
		SalaryRange:       "$70k-$120k",
		GrowthOutlook:     "growing",
		EducationPathways: []string{"degree", "bootcamp"},
		Sources:           []string{"bls.gov"},
	}, nil
}

func (f *fakeMarketClient) lookupCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func newTestEnhancement(client MarketDataClient) *EnhancementService {
	return NewEnhancementService(client, config.NewPolicyStore(""), nil)
}

func basicCard(title string) *models.CareerCard {
	return &models.CareerCard{
		ID:          title + "-id",
		Title:       title,
		Description: "a " + title,
		Enhancement: models.Enhancement{Status: models.EnhancementPending},
		CreatedAt:   time.Now(),
	}
}

func TestEnhancementService_EnhancesBatch(t *testing.T) {
	client := &fakeMarketClient{}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	var mu sync.Mutex
	committed := map[string]int{}
	commit := func(card *models.CareerCard) {
		mu.Lock()
		committed[card.Title]++
		mu.Unlock()
	}

	cards := []*models.CareerCard{basicCard("Software Engineer"), basicCard("Data Analyst")}
	result := svc.Enhance(context.Background(), "s1", cards, nil, commit)

	if result.Err != nil {
		t.Fatalf("Enhance returned error: %v", result.Err)
	}
	if len(result.Enhanced) != 2 || len(result.FailedTitles) != 0 {
		t.Fatalf("result = %d enhanced, %v failed", len(result.Enhanced), result.FailedTitles)
	}
	for i, card := range result.Enhanced {
		if card.Title != cards[i].Title {
			t.Errorf("Enhanced[%d] = %s, input order not preserved", i, card.Title)
		}
		if card.Enhancement.Status != models.EnhancementCompleted {
			t.Errorf("card %s status = %s, want completed", card.Title, card.Enhancement.Status)
		}
		if card.Enhancement.SalaryRange == "" || card.Enhancement.GrowthOutlook == "" {
			t.Errorf("card %s missing market fields: %+v", card.Title, card.Enhancement)
		}
	}
	// The input cards are shared with session state and must never be
	// touched by the pipeline.
	for _, card := range cards {
		if card.Enhancement.Status != models.EnhancementPending {
			t.Errorf("input card %s was mutated: status %s", card.Title, card.Enhancement.Status)
		}
	}
	for _, card := range cards {
		if committed[card.Title] != 1 {
			t.Errorf("card %s committed %d times, want 1", card.Title, committed[card.Title])
		}
	}
}

func TestEnhancementService_DedupesConcurrentSameTitle(t *testing.T) {
	client := &fakeMarketClient{delay: 50 * time.Millisecond}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.lookupDeduped(context.Background(), "s1", "Software Engineer"); err != nil {
				t.Errorf("lookup failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := client.lookupCount(); got != 1 {
		t.Errorf("external lookups = %d, want 1 for concurrent identical requests", got)
	}
}

func TestEnhancementService_CacheSharedAcrossSessions(t *testing.T) {
	client := &fakeMarketClient{}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	if _, err := svc.lookupDeduped(context.Background(), "s1", "UX Designer"); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	// Case and padding differences hit the same cache entry.
	if _, err := svc.lookupDeduped(context.Background(), "s2", "  ux designer "); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if got := client.lookupCount(); got != 1 {
		t.Errorf("external lookups = %d, want 1 (second session should hit cache)", got)
	}
	if svc.CachedTitles() != 1 {
		t.Errorf("CachedTitles = %d, want 1", svc.CachedTitles())
	}
}

func TestEnhancementService_PartialFailure(t *testing.T) {
	client := &fakeMarketClient{failures: map[string]error{
		"Data Analyst": errors.New("market service timeout"),
	}}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	cards := []*models.CareerCard{basicCard("Software Engineer"), basicCard("Data Analyst"), basicCard("UX Designer")}
	result := svc.Enhance(context.Background(), "s1", cards, nil, nil)

	if result.Err != nil {
		t.Fatalf("batch must complete despite individual failures, got %v", result.Err)
	}
	if len(result.Enhanced) != 3 {
		t.Errorf("Enhanced = %d cards, want all 3 delivered", len(result.Enhanced))
	}
	if len(result.FailedTitles) != 1 || result.FailedTitles[0] != "Data Analyst" {
		t.Errorf("FailedTitles = %v, want [Data Analyst]", result.FailedTitles)
	}
	if !strings.Contains(result.PartialFailure, "Data Analyst") {
		t.Errorf("PartialFailure = %q, should name the failed title", result.PartialFailure)
	}

	for _, card := range result.Enhanced {
		switch card.Title {
		case "Data Analyst":
			if card.Enhancement.Status != models.EnhancementFailed {
				t.Errorf("failed card status = %s, want failed", card.Enhancement.Status)
			}
			if card.Enhancement.FailureReason == "" {
				t.Error("failed card is missing its failure reason")
			}
			if card.Enhancement.SalaryRange != "" {
				t.Errorf("failed card must keep its basic form, got salary %q", card.Enhancement.SalaryRange)
			}
		default:
			if card.Enhancement.Status != models.EnhancementCompleted {
				t.Errorf("card %s status = %s, want completed", card.Title, card.Enhancement.Status)
			}
		}
	}
}

func TestEnhancementService_AllFailuresStillComplete(t *testing.T) {
	client := &fakeMarketClient{failures: map[string]error{
		"Software Engineer": errors.New("down"),
		"Data Analyst":      errors.New("down"),
	}}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	var final models.ProgressUpdate
	cards := []*models.CareerCard{basicCard("Software Engineer"), basicCard("Data Analyst")}
	result := svc.Enhance(context.Background(), "s1", cards, func(u models.ProgressUpdate) { final = u }, nil)

	if result.Err != nil {
		t.Fatalf("Enhance returned error: %v", result.Err)
	}
	if len(result.FailedTitles) != 2 {
		t.Errorf("FailedTitles = %v, want both", result.FailedTitles)
	}
	if final.Stage != models.PipelineCompleted || final.Progress != 100 {
		t.Errorf("final progress = %s/%d, want completed/100", final.Stage, final.Progress)
	}
}

func TestEnhancementService_CancellationAbandonsBatch(t *testing.T) {
	client := &fakeMarketClient{delay: 200 * time.Millisecond}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cards := []*models.CareerCard{basicCard("Software Engineer")}
	result := svc.Enhance(ctx, "s1", cards, nil, nil)

	if result.Err == nil {
		t.Fatal("cancelled batch should report an error")
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
	if len(result.Enhanced) != 0 {
		t.Errorf("cancelled batch committed %d cards", len(result.Enhanced))
	}
	if cards[0].Enhancement.Status != models.EnhancementPending {
		t.Errorf("cancelled batch mutated the input card: %s", cards[0].Enhancement.Status)
	}
}

func TestEnhancementService_ProgressIsMonotonic(t *testing.T) {
	client := &fakeMarketClient{}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	var mu sync.Mutex
	var updates []models.ProgressUpdate
	onProgress := func(u models.ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}

	cards := make([]*models.CareerCard, 0, 4)
	for i := 0; i < 4; i++ {
		cards = append(cards, basicCard(fmt.Sprintf("Career %d", i)))
	}
	svc.Enhance(context.Background(), "s1", cards, onProgress, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("no progress updates delivered")
	}
	last := -1
	for _, u := range updates {
		if u.Progress < last {
			t.Fatalf("progress regressed: %d after %d", u.Progress, last)
		}
		last = u.Progress
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
	if updates[len(updates)-1].Stage != models.PipelineCompleted {
		t.Errorf("final stage = %s, want completed", updates[len(updates)-1].Stage)
	}
}

func TestEnhancementService_ClearCacheFlushes(t *testing.T) {
	client := &fakeMarketClient{}
	svc := newTestEnhancement(client)
	defer svc.Shutdown()

	if _, err := svc.lookupDeduped(context.Background(), "s1", "Software Engineer"); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if svc.CachedTitles() != 1 {
		t.Fatalf("CachedTitles = %d, want 1", svc.CachedTitles())
	}

	svc.ClearCache("")
	if svc.CachedTitles() != 0 {
		t.Errorf("CachedTitles after flush = %d, want 0", svc.CachedTitles())
	}

	// The next lookup goes back to the external service.
	if _, err := svc.lookupDeduped(context.Background(), "s1", "Software Engineer"); err != nil {
		t.Fatalf("lookup after flush failed: %v", err)
	}
	if got := client.lookupCount(); got != 2 {
		t.Errorf("external lookups = %d, want 2 after flush", got)
	}
}

// Package pattern implements the Pattern Store (spec §4.3): a persisted
// knowledge base of historical winning setups supporting store, query,
// match-by-relevance, prune, and performance update. The store is
// process-wide shared state; a per-pattern lock serializes updatePerformance
// so the derived success rate never skews under concurrent trade outcomes.
package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-trading-core/internal/logging"
	"ai-trading-core/internal/model"
	"ai-trading-core/internal/persistence"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// indicatorTolerance is the fixed per-indicator scale used by
// indicatorSimilarity (spec §4.3, e.g. "RSI tolerance 10").
var indicatorTolerance = map[string]float64{
	"RSI":      10,
	"SMA_9":    50,
	"SMA_20":   50,
	"SMA_21":   50,
	"EMA_12":   50,
	"EMA_26":   50,
	"BB_upper": 100,
	"BB_lower": 100,
}

func toleranceFor(name string) float64 {
	if t, ok := indicatorTolerance[name]; ok {
		return t
	}
	return 25
}

// Config parameterizes relevance scoring (spec §4.3, §9 RelevanceScoring).
type Config struct {
	RecencyHalfLifeDays float64
}

// DefaultConfig matches the teacher's conventional defaults.
func DefaultConfig() Config {
	return Config{RecencyHalfLifeDays: 14}
}

// Store is the Pattern Store: an in-memory index of record, optionally
// mirrored into Redis. The mirror is write-only: each stored or updated
// pattern is written to Redis, and the store never reads patterns back
// from it. When Redis is unreachable the store falls back to memory-only
// operation (grounded on the teacher's
// redis_position_state.go active/standby idiom).
type Store struct {
	cfg Config
	log *logging.Logger

	mu       sync.RWMutex
	patterns map[string]model.TradingPattern

	// locks serializes updatePerformance per patternId (spec §4.3).
	locks sync.Map // map[string]*sync.Mutex

	redisClient    *redis.Client
	redisAvailable bool
	redisKeyPrefix string

	repo persistence.PatternRepository
}

// NewStore builds a Store. redisClient may be nil to run memory-only.
func NewStore(cfg Config, redisClient *redis.Client) *Store {
	s := &Store{
		cfg:            cfg,
		log:            logging.Default().WithComponent("pattern"),
		patterns:       make(map[string]model.TradingPattern),
		redisClient:    redisClient,
		redisKeyPrefix: "pattern:",
	}
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			s.log.Warn("redis unavailable at startup, falling back to in-memory pattern store", "error", err)
			s.redisAvailable = false
		} else {
			s.redisAvailable = true
		}
	}
	return s
}

// AttachRepository wires the Postgres-backed record of truth for patterns.
// Call LoadFromRepository afterward to hydrate the in-memory index from it.
func (s *Store) AttachRepository(repo persistence.PatternRepository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo = repo
}

// LoadFromRepository hydrates the in-memory index from the attached
// repository, the way the teacher's cache layer warms from Postgres on
// startup rather than starting cold every restart.
func (s *Store) LoadFromRepository(ctx context.Context) error {
	s.mu.Lock()
	repo := s.repo
	s.mu.Unlock()
	if repo == nil {
		return nil
	}
	rows, err := repo.Query(ctx, model.PatternQuery{})
	if err != nil {
		return fmt.Errorf("loading patterns from repository: %w", err)
	}
	s.mu.Lock()
	for _, p := range rows {
		s.patterns[p.ID] = p
	}
	s.mu.Unlock()
	s.log.Info("pattern store hydrated from repository", "count", len(rows))
	return nil
}

func (s *Store) persist(p model.TradingPattern) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.repo.Store(ctx, p); err != nil {
		s.log.Warn("failed persisting pattern to repository", "error", err, "patternId", p.ID)
	}
}

func (s *Store) lockFor(patternID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(patternID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Store validates and persists a pattern, returning its id (spec §4.3).
func (s *Store) Store(p model.TradingPattern) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.LastUsedAt = p.CreatedAt

	s.mu.Lock()
	s.patterns[p.ID] = p
	s.mu.Unlock()

	s.mirrorToRedis(p)
	s.persist(p)
	return p.ID, nil
}

func (s *Store) mirrorToRedis(p model.TradingPattern) {
	if s.redisClient == nil || !s.redisAvailable {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.redisClient.Set(ctx, s.redisKeyPrefix+p.ID, data, 0).Err(); err != nil {
		s.log.Warn("failed mirroring pattern to redis, continuing memory-only", "error", err, "patternId", p.ID)
		s.redisAvailable = false
	}
}

// Query filters stored patterns by the given criteria (spec §4.3).
func (s *Store) Query(q model.PatternQuery) []model.TradingPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []model.TradingPattern
	for _, p := range s.patterns {
		if q.Exchange != nil && p.Exchange != *q.Exchange {
			continue
		}
		if q.Symbol != nil && p.Symbol != *q.Symbol {
			continue
		}
		if q.Timeframe != nil && p.Timeframe != *q.Timeframe {
			continue
		}
		if q.Action != nil && p.Action != *q.Action {
			continue
		}
		if q.MinUsageCount != nil && p.UsageCount < *q.MinUsageCount {
			continue
		}
		if q.MinConfidence != nil && p.Confidence < *q.MinConfidence {
			continue
		}
		if q.MaxAge != nil && now.Sub(p.CreatedAt) > *q.MaxAge {
			continue
		}
		if q.MinSuccessRate != nil {
			rate, defined := p.SuccessRate()
			if !defined || rate < *q.MinSuccessRate {
				continue
			}
		}
		if len(q.AnyOfTags) > 0 && !anyTagMatches(p.Tags, q.AnyOfTags) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, t := range want {
		if set[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}

// Match scores candidate patterns against current market conditions and
// returns the top maxResults at or above minRelevance (spec §4.3).
func (s *Store) Match(mc model.MarketConditions, minRelevance float64, maxResults int) []model.MatchedPattern {
	s.mu.RLock()
	candidates := make([]model.TradingPattern, 0)
	for _, p := range s.patterns {
		if p.Exchange == mc.Exchange && p.Symbol == mc.Symbol && p.Timeframe == mc.Timeframe {
			candidates = append(candidates, p)
		}
	}
	s.mu.RUnlock()

	out := make([]model.MatchedPattern, 0, len(candidates))
	for _, p := range candidates {
		relevance := s.relevance(p, mc)
		if relevance < minRelevance {
			continue
		}
		rate, defined := p.SuccessRate()
		if !defined {
			rate = 0
		}
		final := 0.6*relevance + 0.3*rate + 0.1*p.Confidence
		final = clamp01(final)
		out = append(out, model.MatchedPattern{Pattern: p, Relevance: relevance, FinalConfidence: final})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func (s *Store) relevance(p model.TradingPattern, mc model.MarketConditions) float64 {
	indicatorSimilarity := s.indicatorSimilarity(p.Conditions, mc.Indicators)
	indicatorSimilarity = blendCandlestickConfirmation(indicatorSimilarity, p.CandlestickPattern, mc.CandlestickPattern)
	performanceScore := s.performanceScore(p)
	recencyScore := s.recencyScore(mc.Now, p.LastUsedAt)
	priceProximity := priceProximity(p, mc.Price)

	return 0.4*indicatorSimilarity + 0.3*performanceScore + 0.2*recencyScore + 0.1*priceProximity
}

// candlestickConfirmationWeight is how much a matching/mismatching detected
// candlestick pattern nudges indicatorSimilarity, the way the teacher's
// ConfluenceScorer blends a patternWeight sub-score into its composite
// without ever being the dominant term. It does not replace
// indicatorSimilarity; it is additive context on top of it.
const candlestickConfirmationWeight = 0.15

// blendCandlestickConfirmation folds an optional candlestick pattern match
// into indicatorSimilarity: a matching detected pattern nudges the score up,
// a conflicting one nudges it down, and the absence of either side's
// detection leaves indicatorSimilarity untouched.
func blendCandlestickConfirmation(indicatorSimilarity float64, stored, current model.CandlestickPatternName) float64 {
	if stored == "" || current == "" {
		return indicatorSimilarity
	}
	blended := indicatorSimilarity*(1-candlestickConfirmationWeight) + candlestickConfirmationWeight*boolToFloat(stored == current)
	return clamp01(blended)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *Store) indicatorSimilarity(ref, cur map[string]float64) float64 {
	if len(ref) == 0 {
		return 0
	}
	var total float64
	var n int
	for name, refVal := range ref {
		curVal, ok := cur[name]
		n++
		if !ok {
			continue
		}
		tol := toleranceFor(name)
		sim := 1 - math.Abs(curVal-refVal)/tol
		if sim < 0 {
			sim = 0
		}
		total += sim
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (s *Store) performanceScore(p model.TradingPattern) float64 {
	if p.UsageCount < 5 {
		return 0.5
	}
	rate, defined := p.SuccessRate()
	if !defined {
		return 0.5
	}
	return clamp01(rate)
}

func (s *Store) recencyScore(now, lastUsed time.Time) float64 {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ageDays := now.Sub(lastUsed).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLife := s.cfg.RecencyHalfLifeDays
	if halfLife <= 0 {
		halfLife = 14
	}
	return math.Exp(-ageDays / halfLife)
}

// priceProximity is max(0, 1 - |curPrice-patPrice|/patPrice) when the
// pattern carries a reference price; else the neutral 0.5 (spec §4.3).
func priceProximity(p model.TradingPattern, curPrice decimal.Decimal) float64 {
	if p.RefPrice.IsZero() {
		return 0.5
	}
	ref, _ := p.RefPrice.Float64()
	if ref == 0 {
		return 0.5
	}
	cur, _ := curPrice.Float64()
	prox := 1 - math.Abs(cur-ref)/ref
	if prox < 0 {
		prox = 0
	}
	return prox
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdatePerformance atomically folds a trade outcome into the pattern's
// running statistics (spec §4.3). Updates are serialized per patternId.
func (s *Store) UpdatePerformance(patternID string, outcome model.TradeOutcome) error {
	lock := s.lockFor(patternID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	p, ok := s.patterns[patternID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("pattern not found: %s", patternID)
	}
	usageCount, successCount, avgReturn := p.ApplyOutcome(outcome)
	p.UsageCount = usageCount
	p.SuccessCount = successCount
	p.AverageReturn = avgReturn
	p.LastUsedAt = time.Now().UTC()
	s.patterns[patternID] = p
	s.mu.Unlock()

	s.mirrorToRedis(p)
	s.persistPerformance(p)
	return nil
}

func (s *Store) persistPerformance(p model.TradingPattern) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.repo.UpdatePerformance(ctx, p.ID, p.UsageCount, p.SuccessCount, p.AverageReturn, p.LastUsedAt); err != nil {
		s.log.Warn("failed persisting pattern performance update", "error", err, "patternId", p.ID)
	}
}

// Prune removes patterns matching criteria and returns the removed count
// (spec §4.3).
func (s *Store) Prune(criteria model.PruneCriteria) int {
	s.mu.Lock()

	now := time.Now().UTC()
	removed := 0
	var prunedIDs []string
	for id, p := range s.patterns {
		if s.shouldPrune(p, criteria, now) {
			delete(s.patterns, id)
			prunedIDs = append(prunedIDs, id)
			removed++
		}
	}

	if criteria.MaxPatternsToKeep != nil && len(s.patterns) > *criteria.MaxPatternsToKeep {
		type scored struct {
			id    string
			score float64
			last  time.Time
		}
		all := make([]scored, 0, len(s.patterns))
		for id, p := range s.patterns {
			rate, _ := p.SuccessRate()
			all = append(all, scored{id: id, score: rate * math.Log(1+float64(p.UsageCount)), last: p.LastUsedAt})
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].score != all[j].score {
				return all[i].score > all[j].score
			}
			return all[i].last.After(all[j].last)
		})
		keep := *criteria.MaxPatternsToKeep
		for i := keep; i < len(all); i++ {
			delete(s.patterns, all[i].id)
			prunedIDs = append(prunedIDs, all[i].id)
			removed++
		}
	}
	s.mu.Unlock()

	if len(prunedIDs) > 0 {
		s.persistPrune(prunedIDs)
	}
	return removed
}

func (s *Store) persistPrune(ids []string) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Prune(ctx, ids); err != nil {
		s.log.Warn("failed persisting pattern prune", "error", err, "count", len(ids))
	}
}

func (s *Store) shouldPrune(p model.TradingPattern, c model.PruneCriteria, now time.Time) bool {
	if c.MaxAge != nil && now.Sub(p.CreatedAt) > *c.MaxAge {
		return true
	}
	if c.MinSuccessRate != nil && p.UsageCount >= c.MinSampleSize {
		rate, defined := p.SuccessRate()
		if defined && rate < *c.MinSuccessRate {
			return true
		}
	}
	if c.MinUsageCount != nil && p.UsageCount < *c.MinUsageCount {
		return true
	}
	return false
}

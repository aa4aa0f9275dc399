package searchindex

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/cryptokernel"
	"github.com/google/uuid"
)

const defaultLimit = 50

// Search implements §4.3.4, the central algorithm, in the exact order
// named by the specification.
func (idx *Index) Search(q Query) (*SearchResponse, error) {
	start := time.Now()
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Step 1: rate limit.
	if idx.cfg.EnableRateLimiting {
		if idx.rateLimiter != nil {
			allowed, err := idx.rateLimiter.Allow(context.Background(), idx.userID, idx.cfg.EpochDuration, idx.cfg.MaxQueriesPerEpoch)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
			}
			if !allowed {
				return nil, ErrRateLimitExceeded
			}
		} else if idx.countRecentQueriesLocked() >= idx.cfg.MaxQueriesPerEpoch {
			return nil, ErrRateLimitExceeded
		}
	}

	// Step 2: query trapdoor.
	queryLower := strings.ToLower(strings.TrimSpace(q.Query))
	tq, err := idx.oprf.trapdoor(queryLower)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	// Step 3: match.
	type candidate struct {
		entry *FileIndexEntry
	}
	var candidates []candidate
	for _, entry := range idx.fileIndex {
		matched := false
		for _, t := range entry.Trapdoors {
			if len(t.TokenBytes) != len(tq) {
				continue
			}
			if cryptokernel.ConstantTimeEqual(t.TokenBytes, tq) {
				// usageCount past maxUsage is picked up by the next
				// RotateTrapdoors pass, fired from the epoch timer.
				t.UsageCount++
				matched = true
			}
		}
		if matched {
			candidates = append(candidates, candidate{entry: entry})
		}
	}

	// Step 4: access filter.
	type scored struct {
		entry       *FileIndexEntry
		accessLevel AccessLevel
		relevance   float64
	}
	filtered := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		level := determineAccessLevel(c.entry, q.UserID)
		if level == AccessNone {
			continue
		}
		filtered = append(filtered, scored{entry: c.entry, accessLevel: level})
	}

	// Step 5: relevance, sort descending, stable tie-break by indexedAt ascending.
	for i := range filtered {
		filtered[i].relevance = calculateRelevance(filtered[i].entry, queryLower)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].relevance != filtered[j].relevance {
			return filtered[i].relevance > filtered[j].relevance
		}
		return filtered[i].entry.IndexedAt < filtered[j].entry.IndexedAt
	})

	totalResults := len(filtered)

	// Step 6: limit.
	truncated := false
	if len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
		truncated = true
	}

	results := make([]Result, 0, len(filtered))
	for _, f := range filtered {
		results = append(results, Result{
			FileID:      f.entry.FileID,
			ObjectID:    f.entry.ObjectID,
			AccessLevel: f.accessLevel,
			Relevance:   f.relevance,
			IndexedAt:   f.entry.IndexedAt,
		})
	}

	// Step 7: privacy enhancement.
	if idx.cfg.EnablePrivacyEnhancement {
		if err := addScoreNoise(results); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
		}
		if err := cryptoShuffle(results); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
		}
	}

	// Step 8: result padding.
	padded := false
	if idx.cfg.EnableResultPadding {
		var err error
		results, padded, err = padToBucket(results, idx.cfg.BucketSizes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
		}
		if idx.cfg.EnablePrivacyEnhancement && padded {
			if err := cryptoShuffle(results); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
			}
		}
	}

	queryID := uuid.NewString()

	// Step 9: log.
	if idx.cfg.EnableQueryLogging {
		idx.queryHistory = append(idx.queryHistory, QueryHistoryEntry{
			QueryID:          queryID,
			UserID:           q.UserID,
			Query:            q.Query,
			Timestamp:        nowMillis(),
			ResultCount:      totalResults,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Priority:         q.Priority,
		})
	}

	// Step 10: return.
	return &SearchResponse{
		QueryID:      queryID,
		Results:      results,
		TotalResults: totalResults,
		PrivacyLevel: determinePrivacyLevel(q, idx.cfg),
		Enhancements: ResponseMetadata{
			PrivacyEnhancement: idx.cfg.EnablePrivacyEnhancement,
			ResultPadding:      idx.cfg.EnableResultPadding,
			Truncated:          truncated,
		},
	}, nil
}

func (idx *Index) countRecentQueriesLocked() int {
	cutoff := nowMillis() - idx.cfg.EpochDuration.Milliseconds()
	count := 0
	for _, h := range idx.queryHistory {
		if h.Timestamp > cutoff {
			count++
		}
	}
	return count
}

// determineAccessLevel implements §4.3.5.
func determineAccessLevel(entry *FileIndexEntry, userID string) AccessLevel {
	ac := entry.Metadata.AccessControl
	if ac == nil {
		return AccessFull
	}
	for _, u := range ac.ReadAccess {
		if u == userID {
			return AccessFull
		}
	}
	if entry.Metadata.UserID == userID {
		return AccessFull
	}
	return AccessNone
}

// calculateRelevance implements §4.3.6.
func calculateRelevance(entry *FileIndexEntry, queryLower string) float64 {
	var score float64
	if strings.Contains(strings.ToLower(entry.Metadata.FileName), queryLower) {
		score += 0.5
	}
	for _, tag := range entry.Metadata.Tags {
		if strings.EqualFold(tag, queryLower) {
			score += 0.3
			break
		}
	}
	for _, v := range entry.Metadata.CustomFields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), queryLower) {
			score += 0.2
			break
		}
	}
	if score > 1 {
		score = 1
	}
	if score == 0 {
		// matched by trapdoor but scores 0 under heuristics: distinguish
		// from padding, which is always exactly 0.
		score = 0.05
	}
	return score
}

// determinePrivacyLevel implements §4.3.7.
func determinePrivacyLevel(q Query, cfg config.SearchConfig) string {
	if q.Priority == PriorityHigh || (cfg.EnablePrivacyEnhancement && cfg.EnableResultPadding) {
		return "high"
	}
	if cfg.EnableRateLimiting {
		return "medium"
	}
	return "low"
}

// addScoreNoise adds zero-mean uniform noise in [-0.1, +0.1] to each
// result's relevance, clamped to [0,1], using a cryptographic RNG per §9.
func addScoreNoise(results []Result) error {
	for i := range results {
		noise, err := cryptoUniform(-0.1, 0.1)
		if err != nil {
			return err
		}
		v := results[i].Relevance + noise
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		results[i].Relevance = v
	}
	return nil
}

func cryptoUniform(lo, hi float64) (float64, error) {
	const precision = 1 << 30
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0, err
	}
	frac := float64(n.Int64()) / float64(precision)
	return lo + frac*(hi-lo), nil
}

// cryptoShuffle performs a Fisher-Yates shuffle using a cryptographic
// RNG, per §9 "treat the shuffle RNG identically" to the noise source.
func cryptoShuffle(results []Result) error {
	for i := len(results) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		jj := int(j.Int64())
		results[i], results[jj] = results[jj], results[i]
	}
	return nil
}

// padToBucket implements §4.3.4 step 8 / §8 invariant 6: pick the
// smallest bucket ≥ len(results), or the last bucket if none qualify,
// and generate decoy results up to that size.
func padToBucket(results []Result, bucketSizes []int) ([]Result, bool, error) {
	if len(bucketSizes) == 0 {
		return results, false, nil
	}
	target := bucketSizes[len(bucketSizes)-1]
	for _, b := range bucketSizes {
		if b >= len(results) {
			target = b
			break
		}
	}
	if target <= len(results) {
		return results, false, nil
	}

	padded := make([]Result, len(results), target)
	copy(padded, results)
	for len(padded) < target {
		decoyID, err := randomDecoyID()
		if err != nil {
			return nil, false, err
		}
		padded = append(padded, Result{
			FileID:      decoyID,
			AccessLevel: AccessMetadata,
			Relevance:   0,
			IsPadding:   true,
		})
	}
	return padded, true, nil
}

func randomDecoyID() (string, error) {
	return uuid.NewString(), nil
}

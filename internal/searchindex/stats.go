package searchindex

// GetSearchStats implements invariant 9: with no queries,
// averageQueryTime == 0 and queriesThisEpoch == 0.
func (idx *Index) GetSearchStats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	queriesThisEpoch := idx.countRecentQueriesLocked()

	var total int64
	for _, h := range idx.queryHistory {
		total += h.ProcessingTimeMs
	}
	avg := 0.0
	if len(idx.queryHistory) > 0 {
		avg = float64(total) / float64(len(idx.queryHistory))
	}

	return Stats{
		TotalIndexedFiles: len(idx.fileIndex),
		QueriesThisEpoch:  queriesThisEpoch,
		AverageQueryTime:  avg,
	}
}

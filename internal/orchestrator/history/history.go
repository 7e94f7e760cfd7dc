// Package history keeps recent health scores per machine, rolling older
// entries up into summaries.
package history

import (
	"sync"
	"time"
)

// Entry is one scored window.
type Entry struct {
	At         time.Time `json:"at"`
	MachineID  string    `json:"machine_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Offset     int64     `json:"offset"`
	Similarity float64   `json:"similarity"`
	Score      float64   `json:"score"`
}

// Summary is a compacted run of entries for one machine.
type Summary struct {
	MachineID string    `json:"machine_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// Stats describes scores over a time window.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

// Store holds raw entries and summaries in memory.
type Store struct {
	mu           sync.RWMutex
	entries      []Entry
	summaries    []Summary
	maxSize      int
	maxSummaries int
	now          func() time.Time
}

// NewStore creates a store keeping at most maxEntries raw entries and
// maxSummaries summaries per machine.
func NewStore(maxEntries, maxSummaries int) *Store {
	return &Store{
		entries:      make([]Entry, 0, maxEntries),
		maxSize:      maxEntries,
		maxSummaries: maxSummaries,
		now:          time.Now,
	}
}

// Add stores a new entry. A zero At is stamped with the current time.
func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = s.now()
	}
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Recent returns machineID's raw entries from the last d, oldest first.
func (s *Store) Recent(machineID string, d time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-d)
	var out []Entry
	for _, e := range s.entries {
		if e.MachineID == machineID && !e.At.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Stats combines summaries overlapping the last d with raw entries in it.
func (s *Store) Stats(machineID string, d time.Duration) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-d)
	var st Stats
	var total float64
	var latestAt time.Time
	add := func(count int, sum, lo, hi float64) {
		if st.Count == 0 {
			st.Min, st.Max = lo, hi
		} else {
			st.Min, st.Max = min(st.Min, lo), max(st.Max, hi)
		}
		st.Count += count
		total += sum
	}

	for _, sum := range s.summaries {
		if sum.MachineID == machineID && !sum.End.Before(cutoff) {
			add(sum.Count, sum.Mean*float64(sum.Count), sum.Min, sum.Max)
			if sum.End.After(latestAt) {
				latestAt, st.Latest = sum.End, sum.Mean
			}
		}
	}
	for _, e := range s.entries {
		if e.MachineID == machineID && !e.At.Before(cutoff) {
			add(1, e.Score, e.Score, e.Score)
			if !e.At.Before(latestAt) {
				latestAt, st.Latest = e.At, e.Score
			}
		}
	}
	if st.Count == 0 {
		return Stats{}, false
	}
	st.Mean = total / float64(st.Count)
	return st, true
}

// Compact rolls entries older than olderThan into one summary per machine
// and drops them. It returns the number of entries compacted.
func (s *Store) Compact(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	byMachine := make(map[string]*Summary)
	var order []string
	kept := s.entries[:0]
	compacted := 0

	for _, e := range s.entries {
		if !e.At.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		compacted++
		sum, ok := byMachine[e.MachineID]
		if !ok {
			sum = &Summary{MachineID: e.MachineID, Start: e.At, End: e.At, Min: e.Score, Max: e.Score}
			byMachine[e.MachineID] = sum
			order = append(order, e.MachineID)
		}
		sum.Count++
		sum.Mean += (e.Score - sum.Mean) / float64(sum.Count)
		sum.Min, sum.Max = min(sum.Min, e.Score), max(sum.Max, e.Score)
		if e.At.Before(sum.Start) {
			sum.Start = e.At
		}
		if e.At.After(sum.End) {
			sum.End = e.At
		}
	}
	s.entries = kept

	for _, id := range order {
		s.summaries = append(s.summaries, *byMachine[id])
	}
	s.pruneSummaries()
	return compacted
}

// pruneSummaries keeps the newest maxSummaries per machine.
func (s *Store) pruneSummaries() {
	counts := make(map[string]int)
	for i := len(s.summaries) - 1; i >= 0; i-- {
		counts[s.summaries[i].MachineID]++
	}
	kept := s.summaries[:0]
	for _, sum := range s.summaries {
		if counts[sum.MachineID] > s.maxSummaries {
			counts[sum.MachineID]--
			continue
		}
		kept = append(kept, sum)
	}
	s.summaries = kept
}

// Forget drops everything recorded for machineID.
func (s *Store) Forget(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[:0]
	for _, e := range s.entries {
		if e.MachineID != machineID {
			entries = append(entries, e)
		}
	}
	s.entries = entries

	summaries := s.summaries[:0]
	for _, sum := range s.summaries {
		if sum.MachineID != machineID {
			summaries = append(summaries, sum)
		}
	}
	s.summaries = summaries
}

// Entries returns a copy of all entries.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// Summaries returns a copy of machineID's summaries, oldest first.
func (s *Store) Summaries(machineID string) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Summary
	for _, sum := range s.summaries {
		if sum.MachineID == machineID {
			result = append(result, sum)
		}
	}
	return result
}

package jobstate

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"
)

const dateLayout = "2006-01-02"

// HistoryEntry summarizes the daily syncs of one calendar day.
type HistoryEntry struct {
	Date         string    `json:"date"`
	Removed      int       `json:"removed"`
	New          int       `json:"new"`
	PriceUpdates int       `json:"price_updates"`
	DOMUpdates   int       `json:"days_on_market_updates"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecordHistory adds delta to today's entry. Several runs on the same day
// accumulate into one entry. Entries beyond the retention window are
// evicted, oldest first.
func (s *State) RecordHistory(ctx context.Context, delta HistoryEntry) error {
	now := s.now()
	date := now.Format(dateLayout)

	return s.store.Update(ctx, keyHistory, func(cur []byte, exists bool) ([]byte, error) {
		history := make(map[string]HistoryEntry)
		if exists {
			if err := json.Unmarshal(cur, &history); err != nil {
				history = make(map[string]HistoryEntry)
			}
		}

		e := history[date]
		e.Date = date
		e.Removed += delta.Removed
		e.New += delta.New
		e.PriceUpdates += delta.PriceUpdates
		e.DOMUpdates += delta.DOMUpdates
		e.Timestamp = now
		history[date] = e

		dates := slices.Sorted(maps.Keys(history))
		for len(dates) > s.historyDays {
			delete(history, dates[0])
			dates = dates[1:]
		}

		return json.Marshal(history)
	})
}

// History returns the retained entries, oldest first.
func (s *State) History(ctx context.Context) ([]HistoryEntry, error) {
	history := make(map[string]HistoryEntry)
	if _, err := s.get(ctx, keyHistory, &history); err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(history))
	for _, date := range slices.Sorted(maps.Keys(history)) {
		e := history[date]
		e.Date = date
		out = append(out, e)
	}
	return out, nil
}

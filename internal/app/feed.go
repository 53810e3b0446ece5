package app

import (
	"sync"

	"course-survey-service/internal/domain"
)

// StatsFeed fans out survey-stats snapshots to live subscribers (the admin
// dashboard keeps a websocket open per survey). Snapshots are advisory;
// a subscriber that falls behind sees the newest state, not every step.
type StatsFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.SurveyStats]struct{}
}

func NewStatsFeed() *StatsFeed {
	return &StatsFeed{subs: make(map[string]map[chan domain.SurveyStats]struct{})}
}

// Subscribe returns a channel receiving stats updates for a survey. The
// caller must invoke the returned cancel function to avoid leaks.
func (f *StatsFeed) Subscribe(surveyID string) (<-chan domain.SurveyStats, func()) {
	ch := make(chan domain.SurveyStats, 8)

	f.mu.Lock()
	if f.subs[surveyID] == nil {
		f.subs[surveyID] = make(map[chan domain.SurveyStats]struct{})
	}
	f.subs[surveyID][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if set, ok := f.subs[surveyID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subs, surveyID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish pushes a snapshot to every subscriber of the survey. Slow
// subscribers have their stale snapshot dropped so Publish never blocks.
func (f *StatsFeed) Publish(surveyID string, stats domain.SurveyStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[surveyID] {
		select {
		case ch <- stats:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- stats
		}
	}
}

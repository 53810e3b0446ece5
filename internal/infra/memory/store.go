package memory

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"course-survey-service/internal/domain"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of app.Store, used by tests and as
// a demo fallback when no storage engine is configured.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	surveys     map[string]domain.Survey
	order       []string // survey ids in creation order
	submissions map[string][]domain.Submission
	stats       map[string]map[string]domain.QuestionStat
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:         now,
		surveys:     make(map[string]domain.Survey),
		submissions: make(map[string][]domain.Submission),
		stats:       make(map[string]map[string]domain.QuestionStat),
	}
}

func (s *Store) Init(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateSurvey(_ context.Context, survey domain.NewSurvey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.surveys[id] = domain.Survey{
		ID:          id,
		Title:       survey.Title,
		Description: survey.Description,
		Questions:   append([]domain.Question(nil), survey.Questions...),
		CreatedAt:   now,
		UpdatedAt:   now,
		IsPublished: survey.IsPublished,
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *Store) GetSurveys(_ context.Context, publishedOnly bool) ([]domain.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Survey, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		survey := s.surveys[s.order[i]]
		if publishedOnly && !survey.IsPublished {
			continue
		}
		out = append(out, copySurvey(survey))
	}
	return out, nil
}

func (s *Store) GetSurvey(_ context.Context, id string) (domain.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	survey, ok := s.surveys[id]
	if !ok {
		return domain.Survey{}, domain.ErrSurveyNotFound
	}
	return copySurvey(survey), nil
}

func (s *Store) UpdateSurvey(_ context.Context, id string, update domain.SurveyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	survey, ok := s.surveys[id]
	if !ok {
		return domain.ErrSurveyNotFound
	}
	if update.IsPublished != nil {
		survey.IsPublished = *update.IsPublished
	}
	survey.UpdatedAt = s.now()
	s.surveys[id] = survey
	return nil
}

func (s *Store) DeleteSurvey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.surveys[id]; !ok {
		return domain.ErrSurveyNotFound
	}
	delete(s.surveys, id)
	delete(s.submissions, id)
	delete(s.stats, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub domain.NewSubmission, updateStats bool) (string, error) {
	s.mu.Lock()
	id := uuid.NewString()
	record := domain.Submission{
		ID:        id,
		SurveyID:  sub.SurveyID,
		Answers:   copyAnswers(sub.Answers),
		Score:     sub.Score,
		Language:  sub.Language,
		ClientID:  sub.ClientID,
		CreatedAt: s.now(),
	}
	s.submissions[sub.SurveyID] = append(s.submissions[sub.SurveyID], record)
	survey, hasSurvey := s.surveys[sub.SurveyID]
	s.mu.Unlock()

	if updateStats && hasSurvey {
		for _, tally := range domain.AnswerTallies(survey.Questions, sub.Answers) {
			if err := s.RecordAnswer(ctx, sub.SurveyID, tally.QuestionID, tally.OptionID, tally.Correct); err != nil {
				log.Printf("memory store: record answer %s/%s: %v", sub.SurveyID, tally.QuestionID, err)
			}
		}
	}
	return id, nil
}

func (s *Store) HasSubmittedSurvey(_ context.Context, surveyID, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.submissions[surveyID] {
		if sub.ClientID == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CheckRecentSubmission(_ context.Context, surveyID, clientID string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	for _, sub := range s.submissions[surveyID] {
		if sub.ClientID == clientID && sub.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetSurveySubmissions(_ context.Context, surveyID string, limit, offset int) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.submissions[surveyID]
	out := make([]domain.Submission, 0, limit)
	// Stored in arrival order; walk backwards for newest first.
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		sub := all[i]
		sub.Answers = copyAnswers(sub.Answers)
		out = append(out, sub)
	}
	return out, nil
}

func (s *Store) GetSurveyStats(_ context.Context, surveyID string) (domain.SurveyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.submissions[surveyID]
	stats := domain.SurveyStats{Total: len(subs)}
	if len(subs) == 0 {
		stats.ByLanguage = []domain.LanguageCount{}
		return stats, nil
	}

	sum := 0
	byLang := make(map[string]int)
	for _, sub := range subs {
		sum += sub.Score
		byLang[sub.Language]++
	}
	stats.AvgScore = float64(sum) / float64(len(subs))

	languages := make([]string, 0, len(byLang))
	for lang := range byLang {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	for _, lang := range languages {
		stats.ByLanguage = append(stats.ByLanguage, domain.LanguageCount{Language: lang, Count: byLang[lang]})
	}
	return stats, nil
}

func (s *Store) GetQuestionStat(_ context.Context, surveyID, questionID string) (domain.QuestionStat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stat, ok := s.stats[surveyID][questionID]
	if !ok {
		return domain.QuestionStat{}, false, nil
	}
	return copyStat(stat), true, nil
}

func (s *Store) GetAllQuestionStats(_ context.Context, surveyID string) ([]domain.QuestionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.QuestionStat, 0, len(s.stats[surveyID]))
	for _, stat := range s.stats[surveyID] {
		rows = append(rows, copyStat(stat))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].QuestionID < rows[j].QuestionID })
	return rows, nil
}

func (s *Store) RecordAnswer(_ context.Context, surveyID, questionID, optionID string, wasCorrect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats[surveyID] == nil {
		s.stats[surveyID] = make(map[string]domain.QuestionStat)
	}

	correct := 0
	if wasCorrect {
		correct = 1
	}

	stat, ok := s.stats[surveyID][questionID]
	if !ok {
		s.stats[surveyID][questionID] = domain.QuestionStat{
			ID:           uuid.NewString(),
			SurveyID:     surveyID,
			QuestionID:   questionID,
			TotalAnswers: 1,
			CorrectCount: correct,
			OptionCounts: map[string]int{optionID: 1},
			UpdatedAt:    s.now(),
		}
		return nil
	}

	stat.TotalAnswers++
	stat.CorrectCount += correct
	counts := copyCounts(stat.OptionCounts)
	counts[optionID]++
	stat.OptionCounts = counts
	stat.UpdatedAt = s.now()
	s.stats[surveyID][questionID] = stat
	return nil
}

func copySurvey(survey domain.Survey) domain.Survey {
	survey.Questions = append([]domain.Question(nil), survey.Questions...)
	return survey
}

func copyAnswers(answers map[string]string) map[string]string {
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	return out
}

func copyCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}

func copyStat(stat domain.QuestionStat) domain.QuestionStat {
	stat.OptionCounts = copyCounts(stat.OptionCounts)
	return stat
}

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"course-survey-service/internal/domain"
	"course-survey-service/internal/identity"
)

// SurveyService contains the survey use cases: admin CRUD, the anonymous
// submit flow with its first-submission gate, and stats assembly.
type SurveyService struct {
	store Store
	feed  *StatsFeed
	now   func() time.Time
}

func NewSurveyService(store Store) *SurveyService {
	return newSurveyServiceWithClock(store, time.Now)
}

// NewSurveyServiceWithClock is test-only for deterministic repeat ids.
func NewSurveyServiceWithClock(store Store, now func() time.Time) *SurveyService {
	return newSurveyServiceWithClock(store, now)
}

func newSurveyServiceWithClock(store Store, now func() time.Time) *SurveyService {
	return &SurveyService{
		store: store,
		feed:  NewStatsFeed(),
		now:   now,
	}
}

// Upload validates and persists a new survey document. Surveys start
// unpublished.
func (s *SurveyService) Upload(ctx context.Context, doc domain.SurveyDocument) (string, error) {
	if err := ValidateSurvey(doc); err != nil {
		return "", err
	}

	survey := domain.NewSurvey{
		Title:       doc.Title,
		Questions:   doc.Questions,
		IsPublished: false,
	}
	if doc.Description != nil {
		survey.Description = *doc.Description
	}
	return s.store.CreateSurvey(ctx, survey)
}

// ListSurveys returns surveys newest first, optionally published only.
func (s *SurveyService) ListSurveys(ctx context.Context, publishedOnly bool) ([]domain.Survey, error) {
	return s.store.GetSurveys(ctx, publishedOnly)
}

// GetSurvey returns a survey regardless of publication state (admin reads).
func (s *SurveyService) GetSurvey(ctx context.Context, id string) (domain.Survey, error) {
	return s.store.GetSurvey(ctx, id)
}

// GetPublishedSurvey is the end-user read: it rejects unpublished surveys
// with domain.ErrSurveyUnpublished.
func (s *SurveyService) GetPublishedSurvey(ctx context.Context, id string) (domain.Survey, error) {
	survey, err := s.store.GetSurvey(ctx, id)
	if err != nil {
		return domain.Survey{}, err
	}
	if !survey.IsPublished {
		return domain.Survey{}, domain.ErrSurveyUnpublished
	}
	return survey, nil
}

// SetPublished toggles the end-user visibility gate.
func (s *SurveyService) SetPublished(ctx context.Context, id string, published bool) error {
	if _, err := s.store.GetSurvey(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateSurvey(ctx, id, domain.SurveyUpdate{IsPublished: &published})
}

// Delete removes a survey and, through the store, its dependent
// submissions and stats.
func (s *SurveyService) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetSurvey(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteSurvey(ctx, id)
}

// SubmitResult is the full scored outcome returned for every submission,
// first-time or repeat.
type SubmitResult struct {
	SubmissionID string
	FirstTime    bool
	Score        int
	Total        int
	Percentage   int
	Details      []domain.ScoreDetail
	Questions    []domain.Question
}

// Submit runs the submission flow: resolve the survey, score the answers,
// and persist the result only if this client identity has never submitted
// to this survey before. Repeats still receive a full scored result with
// a synthetic submission id, but nothing is recorded or counted.
func (s *SurveyService) Submit(ctx context.Context, surveyID string, clientID identity.ClientID, answers map[string]string, language string) (SubmitResult, error) {
	survey, err := s.GetPublishedSurvey(ctx, surveyID)
	if err != nil {
		return SubmitResult{}, err
	}
	if answers == nil {
		return SubmitResult{}, domain.ErrBadAnswers
	}
	if !domain.ValidLanguage(language) {
		return SubmitResult{}, domain.ErrBadLanguage
	}

	scored := Score(survey.Questions, answers)

	submitted, err := s.store.HasSubmittedSurvey(ctx, surveyID, clientID.String())
	if err != nil {
		return SubmitResult{}, err
	}

	var submissionID string
	if !submitted {
		submissionID, err = s.store.CreateSubmission(ctx, domain.NewSubmission{
			SurveyID: surveyID,
			Answers:  answers,
			Score:    scored.Score,
			Language: language,
			ClientID: clientID.String(),
		}, true)
		if err != nil {
			return SubmitResult{}, err
		}
		s.publishStats(ctx, surveyID)
	} else {
		// Placeholder id for repeats; the temp- prefix never collides with
		// stored uuid-format ids.
		submissionID = fmt.Sprintf("temp-%d", s.now().UnixMilli())
	}

	return SubmitResult{
		SubmissionID: submissionID,
		FirstTime:    !submitted,
		Score:        scored.Score,
		Total:        scored.Total,
		Percentage:   int(math.Round(float64(scored.Score) / float64(scored.Total) * 100)),
		Details:      scored.Details,
		Questions:    survey.Questions,
	}, nil
}

// HasSubmitted reports whether the client identity has ever submitted to
// the (published) survey. Used only for the "you already took this"
// notice; it does not block resubmission.
func (s *SurveyService) HasSubmitted(ctx context.Context, surveyID string, clientID identity.ClientID) (bool, error) {
	if _, err := s.GetPublishedSurvey(ctx, surveyID); err != nil {
		return false, err
	}
	return s.store.HasSubmittedSurvey(ctx, surveyID, clientID.String())
}

// QuestionStatsView is the admin-facing aggregate for one question.
type QuestionStatsView struct {
	QuestionID    string           `json:"questionId"`
	Content       domain.Localized `json:"content"`
	CorrectOption string           `json:"correctOption"`
	OptionCounts  map[string]int   `json:"optionCounts"`
	CorrectCount  int              `json:"correctCount"`
	CorrectRate   float64          `json:"correctRate"`
}

// StatsReport is the admin stats document for one survey.
type StatsReport struct {
	SurveyID      string              `json:"surveyId"`
	Title         domain.Localized    `json:"title"`
	Stats         domain.SurveyStats  `json:"stats"`
	QuestionStats []QuestionStatsView `json:"questionStats"`
	Submissions   []domain.Submission `json:"submissions"`
}

const statsSubmissionLimit = 100

// Stats assembles the admin statistics for a survey. Per-question numbers
// come from the aggregated stat rows when they exist; surveys predating
// the aggregation fall back to recomputing the same figures from the raw
// submissions.
func (s *SurveyService) Stats(ctx context.Context, surveyID string) (StatsReport, error) {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return StatsReport{}, err
	}

	stats, err := s.store.GetSurveyStats(ctx, surveyID)
	if err != nil {
		return StatsReport{}, err
	}
	submissions, err := s.store.GetSurveySubmissions(ctx, surveyID, statsSubmissionLimit, 0)
	if err != nil {
		return StatsReport{}, err
	}
	statRows, err := s.store.GetAllQuestionStats(ctx, surveyID)
	if err != nil {
		return StatsReport{}, err
	}
	byQuestion := make(map[string]domain.QuestionStat, len(statRows))
	for _, row := range statRows {
		byQuestion[row.QuestionID] = row
	}

	views := make([]QuestionStatsView, 0, len(survey.Questions))
	for _, q := range survey.Questions {
		if row, ok := byQuestion[q.ID]; ok {
			rate := 0.0
			if row.TotalAnswers > 0 {
				rate = float64(row.CorrectCount) / float64(row.TotalAnswers)
			}
			views = append(views, QuestionStatsView{
				QuestionID:    q.ID,
				Content:       q.Content,
				CorrectOption: q.CorrectOption,
				OptionCounts:  row.OptionCounts,
				CorrectCount:  row.CorrectCount,
				CorrectRate:   rate,
			})
			continue
		}
		views = append(views, recomputeQuestionStats(q, submissions))
	}

	return StatsReport{
		SurveyID:      surveyID,
		Title:         survey.Title,
		Stats:         stats,
		QuestionStats: views,
		Submissions:   submissions,
	}, nil
}

// recomputeQuestionStats derives a question's aggregate from raw
// submissions when no stat row exists (data recorded before aggregation
// was introduced).
func recomputeQuestionStats(q domain.Question, submissions []domain.Submission) QuestionStatsView {
	optionCounts := make(map[string]int, len(q.Options))
	for _, opt := range q.Options {
		optionCounts[opt.ID] = 0
	}

	correctCount := 0
	for _, sub := range submissions {
		answer := sub.Answers[q.ID]
		if answer == "" {
			continue
		}
		optionCounts[answer]++
		if answer == q.CorrectOption {
			correctCount++
		}
	}

	rate := 0.0
	if len(submissions) > 0 {
		rate = float64(correctCount) / float64(len(submissions))
	}
	return QuestionStatsView{
		QuestionID:    q.ID,
		Content:       q.Content,
		CorrectOption: q.CorrectOption,
		OptionCounts:  optionCounts,
		CorrectCount:  correctCount,
		CorrectRate:   rate,
	}
}

// StatsSummary returns just the survey-level counters, the payload the
// live feed pushes on every counted submission.
func (s *SurveyService) StatsSummary(ctx context.Context, surveyID string) (domain.SurveyStats, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return domain.SurveyStats{}, err
	}
	return s.store.GetSurveyStats(ctx, surveyID)
}

// SubscribeStats returns a live feed of stats snapshots for a survey.
// The caller must invoke the returned cancel function.
func (s *SurveyService) SubscribeStats(ctx context.Context, surveyID string) (<-chan domain.SurveyStats, func(), error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.Subscribe(surveyID)
	return ch, cancel, nil
}

// publishStats is best-effort: a stats read failure only costs the live
// feed one update.
func (s *SurveyService) publishStats(ctx context.Context, surveyID string) {
	stats, err := s.store.GetSurveyStats(ctx, surveyID)
	if err != nil {
		log.Printf("stats feed: refresh survey %s: %v", surveyID, err)
		return
	}
	s.feed.Publish(surveyID, stats)
}

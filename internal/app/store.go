package app

import (
	"context"
	"time"

	"course-survey-service/internal/domain"
)

// Store is the persistence port the survey use cases are written against.
// Every call takes a context so the embedded single-file backend and the
// remote backend expose the same shape; callers never special-case the
// engine behind the interface.
//
// CreateSubmission also applies the per-question stats aggregation for
// every answered question unless updateStats is false. Aggregation
// failures are logged and swallowed by the implementation: a stats fault
// must never fail the submission itself.
type Store interface {
	// Init creates or refreshes the backend schema. Safe to call on an
	// already-initialized store.
	Init(ctx context.Context) error

	CreateSurvey(ctx context.Context, survey domain.NewSurvey) (string, error)
	// GetSurveys lists surveys newest-created first, optionally only
	// published ones.
	GetSurveys(ctx context.Context, publishedOnly bool) ([]domain.Survey, error)
	// GetSurvey returns domain.ErrSurveyNotFound when id does not exist.
	GetSurvey(ctx context.Context, id string) (domain.Survey, error)
	UpdateSurvey(ctx context.Context, id string, update domain.SurveyUpdate) error
	// DeleteSurvey removes the survey and its dependent submissions and
	// question stats.
	DeleteSurvey(ctx context.Context, id string) error

	CreateSubmission(ctx context.Context, sub domain.NewSubmission, updateStats bool) (string, error)
	// HasSubmittedSurvey reports whether any submission has ever been
	// recorded for the (survey, client) pair.
	HasSubmittedSurvey(ctx context.Context, surveyID, clientID string) (bool, error)
	// CheckRecentSubmission is the time-boxed variant of the check above.
	// The enforcement path does not consult it; see the service layer.
	CheckRecentSubmission(ctx context.Context, surveyID, clientID string, window time.Duration) (bool, error)
	GetSurveySubmissions(ctx context.Context, surveyID string, limit, offset int) ([]domain.Submission, error)

	GetSurveyStats(ctx context.Context, surveyID string) (domain.SurveyStats, error)
	GetQuestionStat(ctx context.Context, surveyID, questionID string) (domain.QuestionStat, bool, error)
	GetAllQuestionStats(ctx context.Context, surveyID string) ([]domain.QuestionStat, error)
	// RecordAnswer increments the aggregate counters for one answered
	// question, creating the stat row on first use. The read-modify-write
	// is not transactionally isolated; concurrent submissions for the same
	// question can lose an update. Accepted for this traffic profile.
	RecordAnswer(ctx context.Context, surveyID, questionID, optionID string, wasCorrect bool) error

	Close() error
}

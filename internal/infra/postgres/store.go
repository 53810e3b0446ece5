// Package postgres implements the persistence port on a remote managed
// Postgres instance.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"course-survey-service/internal/domain"
	pgmigrations "course-survey-service/internal/infra/postgres/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// Store is the remote-engine implementation of app.Store, backed by a
// pgx connection pool. The pool is shared for the process lifetime.
type Store struct {
	pool *pgxpool.Pool
	dsn  string
	now  func() time.Time
}

// Connect opens the pool. Init must be called (or the migrate command
// run) before first use on a fresh database.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, dsn: dsn, now: time.Now}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Init applies the bun migrations over a short-lived side connection.
func (s *Store) Init(ctx context.Context) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(s.dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("migrator init: %w", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateSurvey(ctx context.Context, survey domain.NewSurvey) (string, error) {
	questions, err := json.Marshal(survey.Questions)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO surveys (
			id, title_zh, title_ja, description_zh, description_ja,
			questions, created_at, updated_at, is_published
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, survey.Title.ZH, survey.Title.JA,
		survey.Description.ZH, survey.Description.JA,
		questions, now, now, survey.IsPublished)
	if err != nil {
		return "", fmt.Errorf("insert survey: %w", err)
	}
	return id, nil
}

func (s *Store) GetSurveys(ctx context.Context, publishedOnly bool) ([]domain.Survey, error) {
	query := `SELECT id, title_zh, title_ja, description_zh, description_ja,
		questions, created_at, updated_at, is_published FROM surveys`
	if publishedOnly {
		query += ` WHERE is_published`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	var surveys []domain.Survey
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		surveys = append(surveys, survey)
	}
	return surveys, rows.Err()
}

func (s *Store) GetSurvey(ctx context.Context, id string) (domain.Survey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title_zh, title_ja, description_zh, description_ja,
			questions, created_at, updated_at, is_published
		FROM surveys WHERE id = $1`, id)
	survey, err := scanSurvey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Survey{}, domain.ErrSurveyNotFound
	}
	return survey, err
}

func (s *Store) UpdateSurvey(ctx context.Context, id string, update domain.SurveyUpdate) error {
	if update.IsPublished == nil {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE surveys SET is_published = $1, updated_at = $2 WHERE id = $3`,
		*update.IsPublished, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update survey: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSurveyNotFound
	}
	return nil
}

func (s *Store) DeleteSurvey(ctx context.Context, id string) error {
	// Submissions and stats cascade via the FK constraints.
	tag, err := s.pool.Exec(ctx, `DELETE FROM surveys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSurveyNotFound
	}
	return nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub domain.NewSubmission, updateStats bool) (string, error) {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, survey_id, answers, score, created_at, language, client_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, sub.SurveyID, answers, sub.Score, s.now().UTC(), sub.Language, sub.ClientID)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}

	if updateStats {
		s.applyStats(ctx, sub)
	}
	return id, nil
}

// applyStats mirrors the sqlite backend: aggregation failures are logged
// and swallowed so the submission itself stands.
func (s *Store) applyStats(ctx context.Context, sub domain.NewSubmission) {
	survey, err := s.GetSurvey(ctx, sub.SurveyID)
	if err != nil {
		log.Printf("postgres store: load survey %s for stats: %v", sub.SurveyID, err)
		return
	}
	for _, tally := range domain.AnswerTallies(survey.Questions, sub.Answers) {
		if err := s.RecordAnswer(ctx, sub.SurveyID, tally.QuestionID, tally.OptionID, tally.Correct); err != nil {
			log.Printf("postgres store: record answer %s/%s: %v", sub.SurveyID, tally.QuestionID, err)
		}
	}
}

func (s *Store) HasSubmittedSurvey(ctx context.Context, surveyID, clientID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE survey_id = $1 AND client_id = $2`,
		surveyID, clientID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return count > 0, nil
}

func (s *Store) CheckRecentSubmission(ctx context.Context, surveyID, clientID string, window time.Duration) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE survey_id = $1 AND client_id = $2 AND created_at > $3`,
		surveyID, clientID, s.now().UTC().Add(-window)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check recent submission: %w", err)
	}
	return count > 0, nil
}

func (s *Store) GetSurveySubmissions(ctx context.Context, surveyID string, limit, offset int) ([]domain.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, survey_id, answers, score, created_at, language, client_id
		FROM submissions WHERE survey_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		surveyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var (
			sub        domain.Submission
			rawAnswers []byte
		)
		if err := rows.Scan(&sub.ID, &sub.SurveyID, &rawAnswers, &sub.Score, &sub.CreatedAt, &sub.Language, &sub.ClientID); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Answers = make(map[string]string)
		if err := json.Unmarshal(rawAnswers, &sub.Answers); err != nil {
			log.Printf("postgres store: decode answers for submission %s: %v", sub.ID, err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) GetSurveyStats(ctx context.Context, surveyID string) (domain.SurveyStats, error) {
	var (
		total    int
		avgScore float64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score), 0) FROM submissions WHERE survey_id = $1`,
		surveyID).Scan(&total, &avgScore)
	if err != nil {
		return domain.SurveyStats{}, fmt.Errorf("survey stats: %w", err)
	}

	stats := domain.SurveyStats{
		Total:      total,
		AvgScore:   avgScore,
		ByLanguage: []domain.LanguageCount{},
	}

	rows, err := s.pool.Query(ctx,
		`SELECT language, COUNT(*) FROM submissions WHERE survey_id = $1
		GROUP BY language ORDER BY language`, surveyID)
	if err != nil {
		return domain.SurveyStats{}, fmt.Errorf("survey stats by language: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lc domain.LanguageCount
		if err := rows.Scan(&lc.Language, &lc.Count); err != nil {
			return domain.SurveyStats{}, fmt.Errorf("scan language count: %w", err)
		}
		stats.ByLanguage = append(stats.ByLanguage, lc)
	}
	return stats, rows.Err()
}

func (s *Store) GetQuestionStat(ctx context.Context, surveyID, questionID string) (domain.QuestionStat, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, survey_id, question_id, total_answers, correct_count, option_counts, updated_at
		FROM question_stats WHERE survey_id = $1 AND question_id = $2`,
		surveyID, questionID)
	stat, err := scanQuestionStat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionStat{}, false, nil
	}
	if err != nil {
		return domain.QuestionStat{}, false, err
	}
	return stat, true, nil
}

func (s *Store) GetAllQuestionStats(ctx context.Context, surveyID string) ([]domain.QuestionStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, survey_id, question_id, total_answers, correct_count, option_counts, updated_at
		FROM question_stats WHERE survey_id = $1 ORDER BY question_id`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list question stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.QuestionStat
	for rows.Next() {
		stat, err := scanQuestionStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// RecordAnswer upserts the aggregate row for one answered question. Same
// unguarded read-modify-write as the sqlite backend; see app.Store.
func (s *Store) RecordAnswer(ctx context.Context, surveyID, questionID, optionID string, wasCorrect bool) error {
	correct := 0
	if wasCorrect {
		correct = 1
	}
	now := s.now().UTC()

	stat, ok, err := s.GetQuestionStat(ctx, surveyID, questionID)
	if err != nil {
		return err
	}
	if !ok {
		counts, _ := json.Marshal(map[string]int{optionID: 1})
		_, err := s.pool.Exec(ctx,
			`INSERT INTO question_stats (id, survey_id, question_id, total_answers, correct_count, option_counts, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5, $6)`,
			uuid.NewString(), surveyID, questionID, correct, counts, now)
		if err != nil {
			return fmt.Errorf("insert question stat: %w", err)
		}
		return nil
	}

	if stat.OptionCounts == nil {
		stat.OptionCounts = make(map[string]int)
	}
	stat.OptionCounts[optionID]++
	counts, err := json.Marshal(stat.OptionCounts)
	if err != nil {
		return fmt.Errorf("encode option counts: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE question_stats
		SET total_answers = total_answers + 1, correct_count = correct_count + $1,
			option_counts = $2, updated_at = $3
		WHERE id = $4`,
		correct, counts, now, stat.ID)
	if err != nil {
		return fmt.Errorf("update question stat: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSurvey(row rowScanner) (domain.Survey, error) {
	var (
		survey       domain.Survey
		rawQuestions []byte
	)
	err := row.Scan(&survey.ID, &survey.Title.ZH, &survey.Title.JA,
		&survey.Description.ZH, &survey.Description.JA, &rawQuestions,
		&survey.CreatedAt, &survey.UpdatedAt, &survey.IsPublished)
	if err != nil {
		return domain.Survey{}, err
	}
	if err := json.Unmarshal(rawQuestions, &survey.Questions); err != nil {
		return domain.Survey{}, fmt.Errorf("decode questions for survey %s: %w", survey.ID, err)
	}
	return survey, nil
}

func scanQuestionStat(row rowScanner) (domain.QuestionStat, error) {
	var (
		stat      domain.QuestionStat
		rawCounts []byte
	)
	err := row.Scan(&stat.ID, &stat.SurveyID, &stat.QuestionID,
		&stat.TotalAnswers, &stat.CorrectCount, &rawCounts, &stat.UpdatedAt)
	if err != nil {
		return domain.QuestionStat{}, err
	}
	stat.OptionCounts = make(map[string]int)
	if err := json.Unmarshal(rawCounts, &stat.OptionCounts); err != nil {
		log.Printf("postgres store: decode option counts for %s/%s: %v", stat.SurveyID, stat.QuestionID, err)
		stat.OptionCounts = make(map[string]int)
	}
	return stat, nil
}

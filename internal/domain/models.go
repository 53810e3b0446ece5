package domain

import "time"

// Language codes accepted from respondents.
const (
	LanguageZH = "zh"
	LanguageJA = "ja"
)

// QuestionTypeSingleChoice is the only question type the service recognizes.
const QuestionTypeSingleChoice = "single_choice"

// Localized holds the bilingual text pair used throughout survey documents.
type Localized struct {
	ZH string `json:"zh"`
	JA string `json:"ja"`
}

// Option is one selectable answer of a question.
type Option struct {
	ID   string    `json:"id"`
	Text Localized `json:"text"`
}

// Question is a single-choice question with 2-4 options. CorrectOption
// references one of the option IDs; Explanation is shown after submission.
type Question struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Content       Localized `json:"content"`
	Options       []Option  `json:"options"`
	CorrectOption string    `json:"correct_option"`
	Explanation   Localized `json:"explanation"`
}

// SurveyDocument is the uploadable part of a survey, before the store
// assigns an id and timestamps.
type SurveyDocument struct {
	Title       Localized  `json:"title"`
	Description *Localized `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// Survey is the aggregate root. Submissions and question stats hang off it
// by SurveyID and are removed with it.
type Survey struct {
	ID          string     `json:"id"`
	Title       Localized  `json:"title"`
	Description Localized  `json:"description"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IsPublished bool       `json:"is_published"`
}

// NewSurvey is the store input for survey creation.
type NewSurvey struct {
	Title       Localized
	Description Localized
	Questions   []Question
	IsPublished bool
}

// SurveyUpdate carries the mutable survey fields; nil means unchanged.
type SurveyUpdate struct {
	IsPublished *bool
}

// Submission is one respondent's recorded answer set. At most one row
// exists per (SurveyID, ClientID) pair; the gate in the service layer
// enforces this, not the storage schema.
type Submission struct {
	ID        string            `json:"id"`
	SurveyID  string            `json:"survey_id"`
	Answers   map[string]string `json:"answers"`
	Score     int               `json:"score"`
	Language  string            `json:"language"`
	ClientID  string            `json:"client_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewSubmission is the store input for submission creation.
type NewSubmission struct {
	SurveyID string
	Answers  map[string]string
	Score    int
	Language string
	ClientID string
}

// QuestionStat is the running aggregate for one question of one survey.
// Counters only ever increase for the lifetime of the survey.
type QuestionStat struct {
	ID           string         `json:"id"`
	SurveyID     string         `json:"survey_id"`
	QuestionID   string         `json:"question_id"`
	TotalAnswers int            `json:"total_answers"`
	CorrectCount int            `json:"correct_count"`
	OptionCounts map[string]int `json:"option_counts"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LanguageCount is one row of the per-language submission breakdown.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// SurveyStats summarizes all submissions of a survey.
type SurveyStats struct {
	Total      int             `json:"total"`
	AvgScore   float64         `json:"avgScore"`
	ByLanguage []LanguageCount `json:"byLanguage"`
}

// ScoreDetail records the outcome for a single question of a scored
// answer set, in question order.
type ScoreDetail struct {
	QuestionID    string `json:"questionId"`
	Correct       bool   `json:"correct"`
	UserAnswer    string `json:"userAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
}

// ScoreResult is the outcome of scoring one answer set against a survey.
type ScoreResult struct {
	Score   int           `json:"score"`
	Total   int           `json:"total"`
	Details []ScoreDetail `json:"details"`
}

// ValidLanguage reports whether lang is one of the two recognized codes.
func ValidLanguage(lang string) bool {
	return lang == LanguageZH || lang == LanguageJA
}

// FindOption returns the option with the given id, if present.
func (q Question) FindOption(id string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSurveyNotFound is returned when a referenced survey id does not exist.
	ErrSurveyNotFound = errors.New("survey not found")
	// ErrSurveyUnpublished is returned for end-user reads and submits against
	// a survey that exists but has not been published.
	ErrSurveyUnpublished = errors.New("survey not published")
	// ErrBadAnswers indicates a submission payload whose answers field is not
	// a question-id to option-id mapping.
	ErrBadAnswers = errors.New("answers must map question ids to option ids")
	// ErrBadLanguage indicates a submission language outside zh/ja.
	ErrBadLanguage = errors.New("language must be zh or ja")
)

// ValidationError describes the first structural rule an uploaded survey
// document violates. QuestionID is empty for document-level failures.
type ValidationError struct {
	QuestionID string
	Field      string
	Message    string
}

func (e *ValidationError) Error() string {
	if e.QuestionID == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("question %s: %s: %s", e.QuestionID, e.Field, e.Message)
}

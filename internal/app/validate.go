package app

import (
	"fmt"

	"course-survey-service/internal/domain"
)

// ValidateSurvey checks an uploaded survey document against the domain
// schema. It stops at the first violated rule and returns a
// *domain.ValidationError naming the offending question. Pure; no side
// effects.
func ValidateSurvey(doc domain.SurveyDocument) error {
	if doc.Title.ZH == "" {
		return &domain.ValidationError{Field: "title.zh", Message: "must not be empty"}
	}
	if doc.Title.JA == "" {
		return &domain.ValidationError{Field: "title.ja", Message: "must not be empty"}
	}
	if len(doc.Questions) == 0 {
		return &domain.ValidationError{Field: "questions", Message: "must contain at least one question"}
	}

	for i, q := range doc.Questions {
		if q.ID == "" {
			return &domain.ValidationError{
				Field:   fmt.Sprintf("questions[%d].id", i),
				Message: "must not be empty",
			}
		}
		if err := validateQuestion(q); err != nil {
			return err
		}
	}
	return nil
}

func validateQuestion(q domain.Question) error {
	fail := func(field, message string) error {
		return &domain.ValidationError{QuestionID: q.ID, Field: field, Message: message}
	}

	if q.Type != domain.QuestionTypeSingleChoice {
		return fail("type", fmt.Sprintf("must be %q", domain.QuestionTypeSingleChoice))
	}
	if q.Content.ZH == "" {
		return fail("content.zh", "must not be empty")
	}
	if q.Content.JA == "" {
		return fail("content.ja", "must not be empty")
	}
	if len(q.Options) < 2 || len(q.Options) > 4 {
		return fail("options", "must contain between 2 and 4 options")
	}
	for _, opt := range q.Options {
		if opt.ID == "" {
			return fail("options.id", "must not be empty")
		}
		if opt.Text.ZH == "" {
			return fail(fmt.Sprintf("options[%s].text.zh", opt.ID), "must not be empty")
		}
		if opt.Text.JA == "" {
			return fail(fmt.Sprintf("options[%s].text.ja", opt.ID), "must not be empty")
		}
	}
	if q.CorrectOption == "" {
		return fail("correct_option", "must not be empty")
	}
	if _, ok := q.FindOption(q.CorrectOption); !ok {
		return fail("correct_option", fmt.Sprintf("%q is not one of the option ids", q.CorrectOption))
	}
	if q.Explanation.ZH == "" {
		return fail("explanation.zh", "must not be empty")
	}
	if q.Explanation.JA == "" {
		return fail("explanation.ja", "must not be empty")
	}
	return nil
}

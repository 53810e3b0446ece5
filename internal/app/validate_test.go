package app_test

import (
	"errors"
	"testing"

	"course-survey-service/internal/app"
	"course-survey-service/internal/domain"
)

func validDocument() domain.SurveyDocument {
	return domain.SurveyDocument{
		Title: domain.Localized{ZH: "课程反馈", JA: "コース調査"},
		Questions: []domain.Question{
			{
				ID:      "q1",
				Type:    domain.QuestionTypeSingleChoice,
				Content: domain.Localized{ZH: "问题一", JA: "質問一"},
				Options: []domain.Option{
					{ID: "a", Text: domain.Localized{ZH: "甲", JA: "ア"}},
					{ID: "b", Text: domain.Localized{ZH: "乙", JA: "イ"}},
				},
				CorrectOption: "b",
				Explanation:   domain.Localized{ZH: "解析", JA: "解説"},
			},
		},
	}
}

func TestValidateSurveyAccepts(t *testing.T) {
	if err := app.ValidateSurvey(validDocument()); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestValidateSurveyRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.SurveyDocument)
		field  string
	}{
		{"missing zh title", func(d *domain.SurveyDocument) { d.Title.ZH = "" }, "title.zh"},
		{"missing ja title", func(d *domain.SurveyDocument) { d.Title.JA = "" }, "title.ja"},
		{"no questions", func(d *domain.SurveyDocument) { d.Questions = nil }, "questions"},
		{"wrong type", func(d *domain.SurveyDocument) { d.Questions[0].Type = "multi_choice" }, "type"},
		{"missing content", func(d *domain.SurveyDocument) { d.Questions[0].Content.JA = "" }, "content.ja"},
		{"one option", func(d *domain.SurveyDocument) { d.Questions[0].Options = d.Questions[0].Options[:1] }, "options"},
		{"five options", func(d *domain.SurveyDocument) {
			opts := d.Questions[0].Options
			for _, id := range []string{"c", "d", "e"} {
				opts = append(opts, domain.Option{ID: id, Text: domain.Localized{ZH: "选", JA: "選"}})
			}
			d.Questions[0].Options = opts
		}, "options"},
		{"dangling correct option", func(d *domain.SurveyDocument) { d.Questions[0].CorrectOption = "z" }, "correct_option"},
		{"empty correct option", func(d *domain.SurveyDocument) { d.Questions[0].CorrectOption = "" }, "correct_option"},
		{"missing explanation", func(d *domain.SurveyDocument) { d.Questions[0].Explanation.ZH = "" }, "explanation.zh"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := validDocument()
			tc.mutate(&doc)
			err := app.ValidateSurvey(doc)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestValidateSurveyStopsAtFirstViolation(t *testing.T) {
	doc := validDocument()
	doc.Title.ZH = ""
	doc.Questions = nil

	err := app.ValidateSurvey(doc)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field != "title.zh" {
		t.Fatalf("expected the title violation to win, got %q", verr.Field)
	}
}

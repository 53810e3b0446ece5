package app

import "course-survey-service/internal/domain"

// Score grades an answer set against the survey's questions. A question
// absent from answers counts as an empty (wrong) answer; comparison is
// exact string equality on option ids. Details preserve question order.
// Deterministic and side-effect free.
func Score(questions []domain.Question, answers map[string]string) domain.ScoreResult {
	result := domain.ScoreResult{
		Total:   len(questions),
		Details: make([]domain.ScoreDetail, 0, len(questions)),
	}

	for _, q := range questions {
		userAnswer := answers[q.ID]
		correct := userAnswer == q.CorrectOption
		if correct {
			result.Score++
		}
		result.Details = append(result.Details, domain.ScoreDetail{
			QuestionID:    q.ID,
			Correct:       correct,
			UserAnswer:    userAnswer,
			CorrectAnswer: q.CorrectOption,
		})
	}
	return result
}

package domain

// AnswerTally is one answered question of a submission, resolved against
// the survey's answer key. Store backends feed these into RecordAnswer.
type AnswerTally struct {
	QuestionID string
	OptionID   string
	Correct    bool
}

// AnswerTallies pairs each answered question with its selected option and
// correctness, in question order. Unanswered questions are skipped; they
// contribute to no counter.
func AnswerTallies(questions []Question, answers map[string]string) []AnswerTally {
	tallies := make([]AnswerTally, 0, len(answers))
	for _, q := range questions {
		selected, ok := answers[q.ID]
		if !ok || selected == "" {
			continue
		}
		tallies = append(tallies, AnswerTally{
			QuestionID: q.ID,
			OptionID:   selected,
			Correct:    selected == q.CorrectOption,
		})
	}
	return tallies
}

package examengine

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// scorePlaces - точность хранения баллов и процента
const scorePlaces = 4

var hundred = decimal.NewFromInt(100)

// Score оценивает попытку по снимку вопросов и политике.
// Чистая функция: не читает время и не меняет попытку, повторный вызов
// даёт тот же результат. TerminalStatus и CompletedAt заполняет вызывающий.
func Score(a *entity.Attempt) *entity.Result {
	policy := a.ScoringPolicy()
	epsilon := decimal.NewFromFloat(policy.NATEpsilon).Abs()

	result := &entity.Result{
		AttemptID:    a.ID,
		UserID:       a.UserID,
		AssessmentID: a.AssessmentID,
		Outcomes:     make([]entity.QuestionOutcome, 0, len(a.Bank)),
	}

	raw := decimal.Zero
	negative := decimal.Zero
	total := decimal.Zero

	for i := range a.Bank {
		q := &a.Bank[i]
		marks := decimal.NewFromFloat(q.MarkValue())
		total = total.Add(marks)

		outcome := entity.QuestionOutcome{
			QuestionID: q.ID,
			Position:   i,
			Type:       q.Type,
			Outcome:    entity.OutcomeUnattempted,
			Marks:      marks.InexactFloat64(),
		}

		answer, answered := a.Answers[q.ID]
		if answered {
			verdict := judge(q, answer, policy, epsilon)
			switch verdict {
			case verdictCorrect:
				outcome.Outcome = entity.OutcomeCorrect
				outcome.Awarded = marks.InexactFloat64()
				raw = raw.Add(marks)
			case verdictIncorrect:
				outcome.Outcome = entity.OutcomeIncorrect
				deduction := marks.Mul(decimal.NewFromFloat(policy.NegativeFraction(q.Type))).Round(scorePlaces)
				outcome.Deducted = deduction.InexactFloat64()
				negative = negative.Add(deduction)
			case verdictManual:
				outcome.NeedsManual = true
			}
		}

		switch outcome.Outcome {
		case entity.OutcomeCorrect:
			result.CorrectCount++
		case entity.OutcomeIncorrect:
			result.IncorrectCount++
		default:
			result.UnattemptedCount++
		}
		if outcome.NeedsManual {
			result.PendingReview++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	final := raw.Sub(negative)
	floor := decimal.NewFromFloat(policy.ScoreFloor)
	if final.LessThan(floor) {
		final = floor
	}

	percentage := decimal.Zero
	if total.IsPositive() {
		percentage = final.Div(total).Mul(hundred)
		if percentage.IsNegative() {
			percentage = decimal.Zero
		}
		if percentage.GreaterThan(hundred) {
			percentage = hundred
		}
	}

	result.RawScore = raw.Round(scorePlaces).InexactFloat64()
	result.NegativeMarks = negative.Round(scorePlaces).InexactFloat64()
	result.FinalScore = final.Round(scorePlaces).InexactFloat64()
	result.TotalMarks = total.Round(scorePlaces).InexactFloat64()
	result.Percentage = percentage.Round(scorePlaces).InexactFloat64()
	return result
}

type verdict int

const (
	verdictCorrect verdict = iota
	verdictIncorrect
	verdictManual
)

// judge сравнивает ответ с ключом по правилу типа вопроса
func judge(q *entity.Question, answer entity.Answer, policy entity.ScoringPolicy, epsilon decimal.Decimal) verdict {
	switch q.Type {
	case entity.QuestionTypeMCQ:
		if len(q.CorrectOptions) != 1 {
			return verdictManual
		}
		if answer.Option == q.CorrectOptions[0] {
			return verdictCorrect
		}
		return verdictIncorrect

	case entity.QuestionTypeMSQ:
		if len(q.CorrectOptions) == 0 {
			return verdictManual
		}
		if sameSet(entity.NewChoiceSet(answer.Options), entity.NewChoiceSet(q.CorrectOptions)) {
			return verdictCorrect
		}
		return verdictIncorrect

	case entity.QuestionTypeNAT:
		key, err := ParseNumeric(q.CorrectValue)
		if err != nil {
			return verdictManual
		}
		value, err := ParseNumeric(answer.Value)
		if err != nil {
			return verdictIncorrect
		}
		if value.Sub(key).Abs().LessThanOrEqual(epsilon) {
			return verdictCorrect
		}
		return verdictIncorrect

	case entity.QuestionTypeDescriptive:
		if !policy.AutoGradeDescriptive || strings.TrimSpace(q.CorrectValue) == "" {
			return verdictManual
		}
		if normalizeText(answer.Text) == normalizeText(q.CorrectValue) {
			return verdictCorrect
		}
		return verdictIncorrect
	}
	return verdictManual
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalizeText приводит текст к нижнему регистру и схлопывает пробелы
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

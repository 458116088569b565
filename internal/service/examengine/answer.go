package examengine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

const (
	// MaxTextAnswerLength - предел длины ответа на DESCRIPTIVE вопрос в символах
	MaxTextAnswerLength = 20000

	// MaxNumericLength - предел длины числового ответа в байтах
	MaxNumericLength = 64

	// MaxNumericExponent ограничивает десятичный порядок числа. Без него
	// короткая запись вида 1e-50000000 разворачивается в строку на мегабайты.
	MaxNumericExponent = 30
)

// AnswerInput - сырое значение ответа от клиента.
// Должно быть заполнено ровно одно поле, соответствующее типу вопроса.
type AnswerInput struct {
	Option  *string
	Options []string
	Value   *string
	Text    *string
}

func (in AnswerInput) filled() int {
	n := 0
	if in.Option != nil {
		n++
	}
	if in.Options != nil {
		n++
	}
	if in.Value != nil {
		n++
	}
	if in.Text != nil {
		n++
	}
	return n
}

// BuildAnswer проверяет форму ответа по типу вопроса и приводит его к каноническому виду
func BuildAnswer(q *entity.Question, in AnswerInput) (entity.Answer, error) {
	if in.filled() != 1 {
		return entity.Answer{}, fmt.Errorf("%w: expected exactly one answer field for %s", ErrAnswerShape, q.Type)
	}

	switch q.Type {
	case entity.QuestionTypeMCQ:
		if in.Option == nil {
			return entity.Answer{}, fmt.Errorf("%w: MCQ expects option", ErrAnswerShape)
		}
		if !q.IsValidOption(*in.Option) {
			return entity.Answer{}, fmt.Errorf("%w: %q", ErrUnknownOption, *in.Option)
		}
		return entity.Answer{Type: q.Type, Option: *in.Option}, nil

	case entity.QuestionTypeMSQ:
		if in.Options == nil {
			return entity.Answer{}, fmt.Errorf("%w: MSQ expects options", ErrAnswerShape)
		}
		if len(in.Options) == 0 {
			return entity.Answer{}, fmt.Errorf("%w: MSQ needs at least one option", ErrEmptyAnswer)
		}
		for _, o := range in.Options {
			if !q.IsValidOption(o) {
				return entity.Answer{}, fmt.Errorf("%w: %q", ErrUnknownOption, o)
			}
		}
		return entity.Answer{Type: q.Type, Options: entity.NewChoiceSet(in.Options)}, nil

	case entity.QuestionTypeNAT:
		if in.Value == nil {
			return entity.Answer{}, fmt.Errorf("%w: NAT expects value", ErrAnswerShape)
		}
		d, err := ParseNumeric(*in.Value)
		if err != nil {
			return entity.Answer{}, err
		}
		return entity.Answer{Type: q.Type, Value: d.String()}, nil

	case entity.QuestionTypeDescriptive:
		if in.Text == nil {
			return entity.Answer{}, fmt.Errorf("%w: DESCRIPTIVE expects text", ErrAnswerShape)
		}
		if strings.TrimSpace(*in.Text) == "" {
			return entity.Answer{}, ErrEmptyAnswer
		}
		if utf8.RuneCountInString(*in.Text) > MaxTextAnswerLength {
			return entity.Answer{}, fmt.Errorf("%w: text longer than %d characters", ErrAnswerShape, MaxTextAnswerLength)
		}
		return entity.Answer{Type: q.Type, Text: *in.Text}, nil
	}

	return entity.Answer{}, fmt.Errorf("%w: unsupported question type %q", ErrAnswerShape, q.Type)
}

// ParseNumeric разбирает числовой ответ. Допускаются пробелы по краям
// и десятичная запятая. Длина и порядок числа ограничены.
func ParseNumeric(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, ErrEmptyAnswer
	}
	if len(s) > MaxNumericLength {
		return decimal.Decimal{}, fmt.Errorf("%w: longer than %d bytes", ErrNotNumeric, MaxNumericLength)
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNotNumeric, raw)
	}
	if exp := d.Exponent(); exp > MaxNumericExponent || exp < -MaxNumericExponent {
		return decimal.Decimal{}, fmt.Errorf("%w: exponent %d out of range", ErrNotNumeric, exp)
	}
	return d, nil
}

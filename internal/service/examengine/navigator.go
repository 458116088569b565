package examengine

import (
	"strings"
	"time"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// FilterAll - фильтр навигации без ограничения по типу
const FilterAll = "ALL"

// QuestionFilter ограничивает набор вопросов для прямого перехода.
// Пустой Type означает все вопросы.
type QuestionFilter struct {
	Type entity.QuestionType
}

// ParseFilter разбирает фильтр из строки: "ALL", "" или тип вопроса
func ParseFilter(raw string) (QuestionFilter, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == FilterAll {
		return QuestionFilter{}, nil
	}
	t := entity.QuestionType(s)
	if !t.IsValid() {
		return QuestionFilter{}, ErrUnknownFilter
	}
	return QuestionFilter{Type: t}, nil
}

// Matches проверяет, попадает ли вопрос под фильтр
func (f QuestionFilter) Matches(q *entity.Question) bool {
	return f.Type == "" || q.Type == f.Type
}

// PaletteEntry - состояние одного вопроса для панели навигации.
// Index всегда канонический, независимо от фильтра.
type PaletteEntry struct {
	Index      int                 `json:"index"`
	QuestionID uint                `json:"question_id"`
	Type       entity.QuestionType `json:"type"`
	Answered   bool                `json:"answered"`
	Visited    bool                `json:"visited"`
	Bookmarked bool                `json:"bookmarked"`
	Current    bool                `json:"current"`
}

// Summary - счётчики состояния попытки
type Summary struct {
	Total      int `json:"total"`
	Answered   int `json:"answered"`
	Visited    int `json:"visited"`
	Bookmarked int `json:"bookmarked"`
	NotVisited int `json:"not_visited"`
}

// ensureWritable отклоняет изменения завершённой или просроченной попытки
func ensureWritable(a *entity.Attempt, now time.Time) error {
	if a.IsTerminal() {
		return apperrors.ErrAttemptClosed
	}
	if a.IsOverdue(now) {
		return ErrDeadlinePassed
	}
	return nil
}

// RecordAnswer проверяет и сохраняет ответ в состоянии попытки.
// Ответ на вопрос также отмечает его посещённым.
func RecordAnswer(a *entity.Attempt, now time.Time, questionID uint, in AnswerInput) (entity.Answer, error) {
	if err := ensureWritable(a, now); err != nil {
		return entity.Answer{}, err
	}
	q, _, ok := a.FindQuestion(questionID)
	if !ok {
		return entity.Answer{}, ErrUnknownQuestion
	}
	answer, err := BuildAnswer(q, in)
	if err != nil {
		return entity.Answer{}, err
	}
	a.SetAnswer(questionID, answer)
	a.MarkVisited(questionID)
	return answer, nil
}

// ClearAnswer удаляет ответ на вопрос. Возвращает false, если ответа не было.
func ClearAnswer(a *entity.Attempt, now time.Time, questionID uint) (bool, error) {
	if err := ensureWritable(a, now); err != nil {
		return false, err
	}
	if _, _, ok := a.FindQuestion(questionID); !ok {
		return false, ErrUnknownQuestion
	}
	return a.ClearAnswer(questionID), nil
}

// ToggleBookmark переключает закладку и возвращает новое состояние
func ToggleBookmark(a *entity.Attempt, now time.Time, questionID uint) (bool, error) {
	if err := ensureWritable(a, now); err != nil {
		return false, err
	}
	if _, _, ok := a.FindQuestion(questionID); !ok {
		return false, ErrUnknownQuestion
	}
	return a.ToggleBookmark(questionID), nil
}

// GoTo делает вопрос с каноническим индексом текущим и отмечает его посещённым
func GoTo(a *entity.Attempt, now time.Time, index int) (*entity.Question, error) {
	if err := ensureWritable(a, now); err != nil {
		return nil, err
	}
	q, ok := a.QuestionAt(index)
	if !ok {
		return nil, ErrIndexOutOfRange
	}
	a.CurrentIndex = index
	a.MarkVisited(q.ID)
	return q, nil
}

// Palette возвращает вопросы, подходящие под фильтр, в каноническом порядке.
// Не меняет попытку.
func Palette(a *entity.Attempt, filter QuestionFilter) []PaletteEntry {
	entries := make([]PaletteEntry, 0, len(a.Bank))
	for i := range a.Bank {
		q := &a.Bank[i]
		if !filter.Matches(q) {
			continue
		}
		entries = append(entries, PaletteEntry{
			Index:      i,
			QuestionID: q.ID,
			Type:       q.Type,
			Answered:   a.IsAnswered(q.ID),
			Visited:    a.IsVisited(q.ID),
			Bookmarked: a.IsBookmarked(q.ID),
			Current:    i == a.CurrentIndex,
		})
	}
	return entries
}

// Summarize считает ответы, посещения и закладки
func Summarize(a *entity.Attempt) Summary {
	s := Summary{Total: len(a.Bank)}
	for i := range a.Bank {
		id := a.Bank[i].ID
		if a.IsAnswered(id) {
			s.Answered++
		}
		if a.IsVisited(id) {
			s.Visited++
		}
		if a.IsBookmarked(id) {
			s.Bookmarked++
		}
	}
	s.NotVisited = s.Total - s.Visited
	return s
}

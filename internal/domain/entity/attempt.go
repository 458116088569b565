package entity

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AttemptStatus - статус попытки. Переходы только in_progress → submitted|expired.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// IsTerminal сообщает, является ли статус конечным
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusExpired
}

// Attempt - одна попытка пользователя пройти тест.
// Bank и Policy - снимок вопросов и политики оценивания на момент старта.
type Attempt struct {
	ID           uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uint                              `gorm:"not null;index" json:"user_id"`
	AssessmentID uint                              `gorm:"not null;index" json:"assessment_id"`
	Status       AttemptStatus                     `gorm:"size:20;not null" json:"status"`
	Answers      AnswerMap                         `gorm:"type:jsonb;not null" json:"answers"`
	Visited      datatypes.JSONSlice[uint]         `gorm:"type:jsonb;not null" json:"visited"`
	Bookmarked   datatypes.JSONSlice[uint]         `gorm:"type:jsonb;not null" json:"bookmarked"`
	CurrentIndex int                               `gorm:"not null;default:0" json:"current_index"`
	DurationSec  int                               `gorm:"not null" json:"duration_sec"`
	StartedAt    time.Time                         `gorm:"not null" json:"started_at"`
	Deadline     time.Time                         `gorm:"not null;index" json:"deadline"`
	FinishedAt   *time.Time                        `json:"finished_at,omitempty"`
	Version      int                               `gorm:"not null;default:0" json:"version"` // растёт при каждом сохранении прогресса
	Bank         datatypes.JSONSlice[Question]     `gorm:"type:jsonb;not null" json:"-"`
	Policy       datatypes.JSONType[ScoringPolicy] `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt    time.Time                         `json:"created_at"`
	UpdatedAt    time.Time                         `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Attempt) TableName() string {
	return "attempts"
}

// IsTerminal сообщает, завершена ли попытка
func (a *Attempt) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// Remaining возвращает оставшееся время, не меньше нуля.
// Считается от дедлайна при каждом обращении.
func (a *Attempt) Remaining(now time.Time) time.Duration {
	left := a.Deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// IsOverdue сообщает, что дедлайн наступил
func (a *Attempt) IsOverdue(now time.Time) bool {
	return !now.Before(a.Deadline)
}

// QuestionCount возвращает число вопросов в снимке
func (a *Attempt) QuestionCount() int {
	return len(a.Bank)
}

// QuestionAt возвращает вопрос по порядковому индексу
func (a *Attempt) QuestionAt(index int) (*Question, bool) {
	if index < 0 || index >= len(a.Bank) {
		return nil, false
	}
	return &a.Bank[index], true
}

// FindQuestion ищет вопрос снимка по ID
func (a *Attempt) FindQuestion(questionID uint) (*Question, int, bool) {
	for i := range a.Bank {
		if a.Bank[i].ID == questionID {
			return &a.Bank[i], i, true
		}
	}
	return nil, -1, false
}

// IsVisited проверяет, открывался ли вопрос
func (a *Attempt) IsVisited(questionID uint) bool {
	return containsID(a.Visited, questionID)
}

// IsBookmarked проверяет, отмечен ли вопрос
func (a *Attempt) IsBookmarked(questionID uint) bool {
	return containsID(a.Bookmarked, questionID)
}

// IsAnswered проверяет наличие ответа
func (a *Attempt) IsAnswered(questionID uint) bool {
	_, ok := a.Answers[questionID]
	return ok
}

// MarkVisited добавляет вопрос в посещённые. Множество только растёт.
// Возвращает true, если вопрос добавлен впервые.
func (a *Attempt) MarkVisited(questionID uint) bool {
	if containsID(a.Visited, questionID) {
		return false
	}
	a.Visited = insertID(a.Visited, questionID)
	return true
}

// ToggleBookmark переключает закладку и возвращает новое состояние
func (a *Attempt) ToggleBookmark(questionID uint) bool {
	if containsID(a.Bookmarked, questionID) {
		a.Bookmarked = removeID(a.Bookmarked, questionID)
		return false
	}
	a.Bookmarked = insertID(a.Bookmarked, questionID)
	return true
}

// SetAnswer сохраняет ответ на вопрос
func (a *Attempt) SetAnswer(questionID uint, answer Answer) {
	if a.Answers == nil {
		a.Answers = AnswerMap{}
	}
	a.Answers[questionID] = answer
}

// ClearAnswer удаляет ответ. Возвращает false, если ответа не было.
func (a *Attempt) ClearAnswer(questionID uint) bool {
	if _, ok := a.Answers[questionID]; !ok {
		return false
	}
	delete(a.Answers, questionID)
	return true
}

// ScoringPolicy возвращает снимок политики оценивания
func (a *Attempt) ScoringPolicy() ScoringPolicy {
	return a.Policy.Data()
}

// Множества ID хранятся отсортированными, это даёт стабильный JSON.

func containsID(set []uint, id uint) bool {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= id })
	return i < len(set) && set[i] == id
}

func insertID(set []uint, id uint) []uint {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= id })
	set = append(set, 0)
	copy(set[i+1:], set[i:])
	set[i] = id
	return set
}

func removeID(set []uint, id uint) []uint {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= id })
	if i < len(set) && set[i] == id {
		return append(set[:i], set[i+1:]...)
	}
	return set
}

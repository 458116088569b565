package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
func (o StringArray) Value() (driver.Value, error) {
	if len(o) == 0 {
		return []byte("[]"), nil // Пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Contains проверяет наличие строки в массиве
func (o StringArray) Contains(s string) bool {
	for _, v := range o {
		if v == s {
			return true
		}
	}
	return false
}

// QuestionType определяет форму ответа и правило оценивания
type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "MCQ"         // один вариант
	QuestionTypeMSQ         QuestionType = "MSQ"         // несколько вариантов
	QuestionTypeNAT         QuestionType = "NAT"         // числовой ответ
	QuestionTypeDescriptive QuestionType = "DESCRIPTIVE" // свободный текст
)

// IsValid проверяет, что тип вопроса известен
func (t QuestionType) IsValid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeMSQ, QuestionTypeNAT, QuestionTypeDescriptive:
		return true
	}
	return false
}

// DefaultMarks - балл за вопрос, если он не задан
const DefaultMarks = 1.0

// Question представляет вопрос теста.
// Ключ ответа сериализуется в JSON, чтобы попадать в снимок попытки и кеш;
// клиенту вопрос отдаётся только через DTO без ключа.
type Question struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	AssessmentID   uint         `gorm:"not null;index" json:"assessment_id"`
	Position       int          `gorm:"not null" json:"position"`
	Type           QuestionType `gorm:"size:16;not null" json:"type"`
	Text           string       `gorm:"type:text;not null" json:"text"`
	Options        StringArray  `gorm:"type:jsonb;not null" json:"options"`
	CorrectOptions StringArray  `gorm:"type:jsonb;not null" json:"correct_options"`
	CorrectValue   string       `gorm:"size:255;not null;default:''" json:"correct_value"`
	Marks          float64      `gorm:"not null;default:1" json:"marks"`
	Explanation    string       `gorm:"type:text;not null;default:''" json:"explanation"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// MarkValue возвращает балл за вопрос с учетом значения по умолчанию
func (q *Question) MarkValue() float64 {
	if q.Marks <= 0 {
		return DefaultMarks
	}
	return q.Marks
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidOption проверяет, что строка является одним из вариантов вопроса
func (q *Question) IsValidOption(option string) bool {
	return q.Options.Contains(option)
}

// HasOptions сообщает, предполагает ли тип вопроса выбор из вариантов
func (q *Question) HasOptions() bool {
	return q.Type == QuestionTypeMCQ || q.Type == QuestionTypeMSQ
}

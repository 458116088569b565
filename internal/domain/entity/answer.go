package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
)

// Answer - ответ на вопрос. Заполнено только поле, соответствующее Type:
// Option для MCQ, Options для MSQ, Value для NAT, Text для DESCRIPTIVE.
type Answer struct {
	Type    QuestionType `json:"type"`
	Option  string       `json:"option,omitempty"`
	Options []string     `json:"options,omitempty"` // отсортированы, без повторов
	Value   string       `json:"value,omitempty"`   // каноническая десятичная запись
	Text    string       `json:"text,omitempty"`
}

// NewChoiceSet нормализует выбор MSQ: сортирует и убирает повторы
func NewChoiceSet(options []string) []string {
	set := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		set = append(set, o)
	}
	sort.Strings(set)
	return set
}

// AnswerMap - ответы попытки по ID вопроса.
// Вопрос без записи в карте считается неотвеченным.
type AnswerMap map[uint]Answer

// Scan реализует интерфейс sql.Scanner для AnswerMap
func (m *AnswerMap) Scan(value interface{}) error {
	if value == nil {
		*m = AnswerMap{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*m = AnswerMap{}
		return nil
	}

	result := AnswerMap{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*m = result
	return nil
}

// Value реализует интерфейс driver.Valuer для AnswerMap
func (m AnswerMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Clone возвращает копию карты ответов
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		if v.Options != nil {
			v.Options = append([]string(nil), v.Options...)
		}
		out[k] = v
	}
	return out
}

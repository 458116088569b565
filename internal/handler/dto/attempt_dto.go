package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/service"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

// QuestionResponse - вопрос без ключа ответа
type QuestionResponse struct {
	ID      uint                `json:"id"`
	Index   int                 `json:"index"`
	Type    entity.QuestionType `json:"type"`
	Text    string              `json:"text"`
	Options []string            `json:"options"`
	Marks   float64             `json:"marks"`
}

// ResultResponse - итог попытки
type ResultResponse struct {
	AttemptID        uuid.UUID                `json:"attempt_id"`
	AssessmentID     uint                     `json:"assessment_id"`
	Status           entity.AttemptStatus     `json:"status"`
	RawScore         float64                  `json:"raw_score"`
	NegativeMarks    float64                  `json:"negative_marks"`
	FinalScore       float64                  `json:"final_score"`
	TotalMarks       float64                  `json:"total_marks"`
	Percentage       float64                  `json:"percentage"`
	CorrectCount     int                      `json:"correct_count"`
	IncorrectCount   int                      `json:"incorrect_count"`
	UnattemptedCount int                      `json:"unattempted_count"`
	PendingReview    int                      `json:"pending_review"`
	CompletedAt      time.Time                `json:"completed_at"`
	Outcomes         []entity.QuestionOutcome `json:"outcomes,omitempty"`
}

// AttemptResponse - состояние попытки для клиента.
// RemainingSec пересчитывается сервером при каждом запросе.
type AttemptResponse struct {
	ID           uuid.UUID              `json:"id"`
	AssessmentID uint                   `json:"assessment_id"`
	Status       entity.AttemptStatus   `json:"status"`
	StartedAt    time.Time              `json:"started_at"`
	Deadline     time.Time              `json:"deadline"`
	ServerTime   time.Time              `json:"server_time"`
	RemainingSec int                    `json:"remaining_sec"`
	CurrentIndex int                    `json:"current_index"`
	Questions    []QuestionResponse     `json:"questions"`
	Answers      map[uint]entity.Answer `json:"answers"`
	Visited      []uint                 `json:"visited"`
	Bookmarked   []uint                 `json:"bookmarked"`
	Summary      examengine.Summary     `json:"summary"`
	Result       *ResultResponse        `json:"result,omitempty"`
}

// ReviewItem - разбор вопроса после завершения: ответ пользователя и ключ
type ReviewItem struct {
	Question       QuestionResponse       `json:"question"`
	Outcome        entity.QuestionOutcome `json:"outcome"`
	Answer         *entity.Answer         `json:"answer,omitempty"`
	CorrectOptions []string               `json:"correct_options,omitempty"`
	CorrectValue   string                 `json:"correct_value,omitempty"`
	Explanation    string                 `json:"explanation,omitempty"`
}

// ReviewResponse - итог с разбором по вопросам
type ReviewResponse struct {
	Result ResultResponse `json:"result"`
	Items  []ReviewItem   `json:"items"`
}

// PaginatedResultResponse представляет пагинированный список результатов
type PaginatedResultResponse struct {
	Results []*ResultResponse `json:"results"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

// NewQuestionResponse создает DTO вопроса без ключа
func NewQuestionResponse(q *entity.Question, index int) QuestionResponse {
	options := []string(q.Options)
	if options == nil {
		options = []string{}
	}
	return QuestionResponse{
		ID:      q.ID,
		Index:   index,
		Type:    q.Type,
		Text:    q.Text,
		Options: options,
		Marks:   q.MarkValue(),
	}
}

// NewResultResponse создает DTO результата. Разбор по вопросам включается по флагу.
func NewResultResponse(r *entity.Result, withOutcomes bool) *ResultResponse {
	resp := &ResultResponse{
		AttemptID:        r.AttemptID,
		AssessmentID:     r.AssessmentID,
		Status:           r.TerminalStatus,
		RawScore:         r.RawScore,
		NegativeMarks:    r.NegativeMarks,
		FinalScore:       r.FinalScore,
		TotalMarks:       r.TotalMarks,
		Percentage:       r.Percentage,
		CorrectCount:     r.CorrectCount,
		IncorrectCount:   r.IncorrectCount,
		UnattemptedCount: r.UnattemptedCount,
		PendingReview:    r.PendingReview,
		CompletedAt:      r.CompletedAt,
	}
	if withOutcomes {
		resp.Outcomes = r.Outcomes
	}
	return resp
}

// NewAttemptResponse создает DTO состояния попытки
func NewAttemptResponse(view *service.AttemptView) *AttemptResponse {
	a := view.Attempt
	questions := make([]QuestionResponse, len(a.Bank))
	for i := range a.Bank {
		questions[i] = NewQuestionResponse(&a.Bank[i], i)
	}
	answers := make(map[uint]entity.Answer, len(a.Answers))
	for id, ans := range a.Answers {
		answers[id] = ans
	}

	resp := &AttemptResponse{
		ID:           a.ID,
		AssessmentID: a.AssessmentID,
		Status:       a.Status,
		StartedAt:    a.StartedAt,
		Deadline:     a.Deadline,
		ServerTime:   view.ServerTime,
		RemainingSec: int(math.Ceil(view.Remaining.Seconds())),
		CurrentIndex: a.CurrentIndex,
		Questions:    questions,
		Answers:      answers,
		Visited:      append([]uint{}, a.Visited...),
		Bookmarked:   append([]uint{}, a.Bookmarked...),
		Summary:      view.Summary,
	}
	if view.Result != nil {
		resp.Result = NewResultResponse(view.Result, false)
	}
	return resp
}

// NewReviewResponse собирает разбор завершённой попытки
func NewReviewResponse(result *entity.Result, attempt *entity.Attempt) *ReviewResponse {
	items := make([]ReviewItem, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		q, index, ok := attempt.FindQuestion(outcome.QuestionID)
		if !ok {
			continue
		}
		item := ReviewItem{
			Question:       NewQuestionResponse(q, index),
			Outcome:        outcome,
			CorrectOptions: []string(q.CorrectOptions),
			CorrectValue:   q.CorrectValue,
			Explanation:    q.Explanation,
		}
		if ans, ok := attempt.Answers[q.ID]; ok {
			ans := ans
			item.Answer = &ans
		}
		items = append(items, item)
	}
	return &ReviewResponse{Result: *NewResultResponse(result, false), Items: items}
}

// NewPaginatedResultResponse создает пагинированный список результатов
func NewPaginatedResultResponse(results []entity.Result, total int64, page, perPage int) *PaginatedResultResponse {
	list := make([]*ResultResponse, len(results))
	for i := range results {
		list[i] = NewResultResponse(&results[i], false)
	}
	return &PaginatedResultResponse{Results: list, Total: total, Page: page, PerPage: perPage}
}

// NumericInput принимает числовой ответ как JSON-строку или JSON-число
type NumericInput string

// UnmarshalJSON реализует json.Unmarshaler
func (n *NumericInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericInput(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("value must be a number or a string")
	}
	*n = NumericInput(num.String())
	return nil
}

// AnswerRequest - тело запроса на запись ответа.
// Заполняется одно поле по типу вопроса.
type AnswerRequest struct {
	Option  *string       `json:"option"`
	Options []string      `json:"options" binding:"omitempty,max=26,dive,required"`
	Value   *NumericInput `json:"value"`
	Text    *string       `json:"text"`
}

// ToInput преобразует запрос во вход движка
func (r *AnswerRequest) ToInput() examengine.AnswerInput {
	in := examengine.AnswerInput{Option: r.Option, Options: r.Options, Text: r.Text}
	if r.Value != nil {
		v := string(*r.Value)
		in.Value = &v
	}
	return in
}

// NavigateRequest - переход к вопросу по каноническому индексу
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// PaletteQuery - фильтр панели навигации
type PaletteQuery struct {
	Type string `form:"type" binding:"omitempty,question_filter"`
}

// PaletteResponse - панель навигации
type PaletteResponse struct {
	Filter       string                    `json:"filter"`
	Entries      []examengine.PaletteEntry `json:"entries"`
	Summary      examengine.Summary        `json:"summary"`
	RemainingSec int                       `json:"remaining_sec"`
}

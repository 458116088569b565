package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Outcome - итог по одному вопросу
type Outcome string

const (
	OutcomeCorrect     Outcome = "CORRECT"
	OutcomeIncorrect   Outcome = "INCORRECT"
	OutcomeUnattempted Outcome = "UNATTEMPTED"
)

// QuestionOutcome - результат оценивания одного вопроса
type QuestionOutcome struct {
	QuestionID  uint         `json:"question_id"`
	Position    int          `json:"position"`
	Type        QuestionType `json:"type"`
	Outcome     Outcome      `json:"outcome"`
	Marks       float64      `json:"marks"`
	Awarded     float64      `json:"awarded"`
	Deducted    float64      `json:"deducted"`
	NeedsManual bool         `json:"needs_manual,omitempty"` // DESCRIPTIVE без автопроверки
}

// Result - итог попытки. Создаётся один раз при завершении и не меняется.
type Result struct {
	ID               uint                                 `gorm:"primaryKey" json:"id"`
	AttemptID        uuid.UUID                            `gorm:"type:uuid;not null;uniqueIndex" json:"attempt_id"`
	UserID           uint                                 `gorm:"not null;index" json:"user_id"`
	AssessmentID     uint                                 `gorm:"not null;index" json:"assessment_id"`
	TerminalStatus   AttemptStatus                        `gorm:"size:20;not null" json:"terminal_status"`
	Outcomes         datatypes.JSONSlice[QuestionOutcome] `gorm:"type:jsonb;not null" json:"outcomes"`
	RawScore         float64                              `gorm:"not null" json:"raw_score"`
	NegativeMarks    float64                              `gorm:"not null" json:"negative_marks"`
	FinalScore       float64                              `gorm:"not null" json:"final_score"`
	TotalMarks       float64                              `gorm:"not null" json:"total_marks"`
	Percentage       float64                              `gorm:"not null" json:"percentage"`
	CorrectCount     int                                  `gorm:"not null" json:"correct_count"`
	IncorrectCount   int                                  `gorm:"not null" json:"incorrect_count"`
	UnattemptedCount int                                  `gorm:"not null" json:"unattempted_count"`
	PendingReview    int                                  `gorm:"not null;default:0" json:"pending_review"`
	CompletedAt      time.Time                            `gorm:"not null" json:"completed_at"`
	CreatedAt        time.Time                            `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Result) TableName() string {
	return "results"
}

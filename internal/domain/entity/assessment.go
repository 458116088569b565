package entity

import (
	"time"

	"gorm.io/datatypes"
)

// AccessTier определяет, нужен ли доступ для прохождения теста
type AccessTier string

const (
	AccessTierFree AccessTier = "free"
	AccessTierPaid AccessTier = "paid"
)

// ScoringPolicy - итоговая политика оценивания, которая снимается в попытку
// при её создании и дальше не меняется.
type ScoringPolicy struct {
	NegativeMCQ          float64 `json:"negative_mcq"`
	NegativeMSQ          float64 `json:"negative_msq"`
	NegativeNAT          float64 `json:"negative_nat"`
	NATEpsilon           float64 `json:"nat_epsilon"`
	ScoreFloor           float64 `json:"score_floor"`
	AutoGradeDescriptive bool    `json:"auto_grade_descriptive"`
}

// NegativeFraction возвращает долю штрафа для типа вопроса
func (p ScoringPolicy) NegativeFraction(t QuestionType) float64 {
	switch t {
	case QuestionTypeMCQ:
		return p.NegativeMCQ
	case QuestionTypeMSQ:
		return p.NegativeMSQ
	case QuestionTypeNAT:
		return p.NegativeNAT
	}
	return 0
}

// PolicyOverride хранит переопределения политики на уровне теста.
// Пустые поля берутся из настроек сервиса.
type PolicyOverride struct {
	NegativeMCQ          *float64 `json:"negative_mcq,omitempty"`
	NegativeMSQ          *float64 `json:"negative_msq,omitempty"`
	NegativeNAT          *float64 `json:"negative_nat,omitempty"`
	NATEpsilon           *float64 `json:"nat_epsilon,omitempty"`
	ScoreFloor           *float64 `json:"score_floor,omitempty"`
	AutoGradeDescriptive *bool    `json:"auto_grade_descriptive,omitempty"`
}

// Apply накладывает переопределения на базовую политику
func (o PolicyOverride) Apply(base ScoringPolicy) ScoringPolicy {
	p := base
	if o.NegativeMCQ != nil {
		p.NegativeMCQ = *o.NegativeMCQ
	}
	if o.NegativeMSQ != nil {
		p.NegativeMSQ = *o.NegativeMSQ
	}
	if o.NegativeNAT != nil {
		p.NegativeNAT = *o.NegativeNAT
	}
	if o.NATEpsilon != nil {
		p.NATEpsilon = *o.NATEpsilon
	}
	if o.ScoreFloor != nil {
		p.ScoreFloor = *o.ScoreFloor
	}
	if o.AutoGradeDescriptive != nil {
		p.AutoGradeDescriptive = *o.AutoGradeDescriptive
	}
	return p
}

// Assessment представляет определение теста (каталог ведётся внешним сервисом)
type Assessment struct {
	ID          uint                                `gorm:"primaryKey" json:"id"`
	Title       string                              `gorm:"size:200;not null" json:"title"`
	Difficulty  string                              `gorm:"size:20;not null;default:'medium'" json:"difficulty"`
	DurationSec int                                 `gorm:"not null" json:"duration_sec"`
	AccessTier  AccessTier                          `gorm:"size:10;not null;default:'free'" json:"access_tier"`
	PriceMinor  int64                               `gorm:"not null;default:0" json:"price_minor"`
	MaxAttempts int                                 `gorm:"not null;default:0" json:"max_attempts"` // 0 - квота по умолчанию для уровня доступа
	Scoring     datatypes.JSONType[PolicyOverride] `gorm:"type:jsonb;not null;default:'{}'" json:"scoring"`
	Questions   []Question                          `gorm:"foreignKey:AssessmentID" json:"questions,omitempty"`
	CreatedAt   time.Time                           `json:"created_at"`
	UpdatedAt   time.Time                           `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Assessment) TableName() string {
	return "assessments"
}

// IsPaid сообщает, требуется ли доступ для прохождения
func (a *Assessment) IsPaid() bool {
	return a.AccessTier == AccessTierPaid
}

// Duration возвращает длительность теста
func (a *Assessment) Duration() time.Duration {
	return time.Duration(a.DurationSec) * time.Second
}

// TotalMarks возвращает сумму баллов всех вопросов
func (a *Assessment) TotalMarks() float64 {
	total := 0.0
	for i := range a.Questions {
		total += a.Questions[i].MarkValue()
	}
	return total
}

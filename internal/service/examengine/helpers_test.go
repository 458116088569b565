package examengine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

func testCtx() context.Context {
	return context.Background()
}

func strPtr(s string) *string {
	return &s
}

var testStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// newAttempt собирает попытку in_progress на 30 минут с заданными вопросами
func newAttempt(policy entity.ScoringPolicy, questions ...entity.Question) *entity.Attempt {
	return &entity.Attempt{
		ID:           uuid.New(),
		UserID:       7,
		AssessmentID: 1,
		Status:       entity.AttemptStatusInProgress,
		Answers:      entity.AnswerMap{},
		Visited:      []uint{},
		Bookmarked:   []uint{},
		StartedAt:    testStart,
		Deadline:     testStart.Add(30 * time.Minute),
		Bank:         questions,
		Policy:       datatypes.NewJSONType(policy),
	}
}

func mcq(id uint, marks float64, correct string) entity.Question {
	return entity.Question{
		ID: id, Type: entity.QuestionTypeMCQ, Marks: marks,
		Options: entity.StringArray{"A", "B", "C", "D"}, CorrectOptions: entity.StringArray{correct},
	}
}

func msq(id uint, marks float64, correct ...string) entity.Question {
	return entity.Question{
		ID: id, Type: entity.QuestionTypeMSQ, Marks: marks,
		Options: entity.StringArray{"A", "B", "C", "D"}, CorrectOptions: entity.StringArray(correct),
	}
}

func nat(id uint, marks float64, correct string) entity.Question {
	return entity.Question{ID: id, Type: entity.QuestionTypeNAT, Marks: marks, CorrectValue: correct}
}

func descriptive(id uint, marks float64, key string) entity.Question {
	return entity.Question{ID: id, Type: entity.QuestionTypeDescriptive, Marks: marks, CorrectValue: key}
}

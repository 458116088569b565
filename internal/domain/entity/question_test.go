package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestion_IsValidOption(t *testing.T) {
	// Arrange
	question := &Question{
		Type:    QuestionTypeMCQ,
		Options: StringArray{"A", "B", "C", "D"},
	}

	// Act & Assert: валидные опции
	assert.True(t, question.IsValidOption("A"))
	assert.True(t, question.IsValidOption("D"))

	// Assert: невалидные опции
	assert.False(t, question.IsValidOption("a"), "Сравнение должно быть точным")
	assert.False(t, question.IsValidOption(""), "Пустая строка не является вариантом")
	assert.False(t, question.IsValidOption("E"))
}

func TestQuestion_MarkValue(t *testing.T) {
	testCases := []struct {
		name     string
		marks    float64
		expected float64
	}{
		{"задано 4", 4, 4},
		{"задано 0.5", 0.5, 0.5},
		{"не задано", 0, DefaultMarks},
		{"отрицательное", -2, DefaultMarks},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := &Question{Marks: tc.marks}
			assert.Equal(t, tc.expected, q.MarkValue())
		})
	}
}

func TestQuestionType_IsValid(t *testing.T) {
	assert.True(t, QuestionTypeMCQ.IsValid())
	assert.True(t, QuestionTypeMSQ.IsValid())
	assert.True(t, QuestionTypeNAT.IsValid())
	assert.True(t, QuestionTypeDescriptive.IsValid())
	assert.False(t, QuestionType("ESSAY").IsValid())
	assert.False(t, QuestionType("").IsValid())
}

func TestQuestion_OptionsCount(t *testing.T) {
	testCases := []struct {
		name     string
		options  StringArray
		expected int
	}{
		{"4 варианта", StringArray{"A", "B", "C", "D"}, 4},
		{"2 варианта", StringArray{"Да", "Нет"}, 2},
		{"0 вариантов", StringArray{}, 0},
		{"nil варианты", nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			question := &Question{Options: tc.options}
			assert.Equal(t, tc.expected, question.OptionsCount())
		})
	}
}

func TestQuestion_TableName(t *testing.T) {
	question := Question{}
	assert.Equal(t, "questions", question.TableName(), "TableName должен возвращать 'questions'")
}

// Тесты для StringArray (JSONB сериализация)

func TestStringArray_Scan_ValidJSON(t *testing.T) {
	// Arrange
	jsonBytes := []byte(`["Option 1", "Option 2", "Option 3"]`)
	var arr StringArray

	// Act
	err := arr.Scan(jsonBytes)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StringArray{"Option 1", "Option 2", "Option 3"}, arr)
}

func TestStringArray_Scan_NullValue(t *testing.T) {
	var arr StringArray

	err := arr.Scan(nil)

	require.NoError(t, err)
	assert.Len(t, arr, 0, "Для nil должен вернуться пустой массив")
}

func TestStringArray_Scan_InvalidType(t *testing.T) {
	var arr StringArray

	err := arr.Scan("not a byte slice")

	assert.Error(t, err, "Scan должен возвращать ошибку для неподдерживаемого типа")
}

func TestStringArray_Value_Nil(t *testing.T) {
	// Arrange
	var arr StringArray

	// Act
	val, err := arr.Value()

	// Assert
	require.NoError(t, err)
	bytes, ok := val.([]byte)
	require.True(t, ok, "Value должен возвращать []byte")
	assert.Equal(t, "[]", string(bytes), "nil должен сериализоваться в []")
}

package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/handler/dto"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
	"github.com/yourusername/mocktest-api/internal/service"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := dto.RegisterValidators(); err != nil {
		panic(err)
	}
}

// newTestContext создает *gin.Context с JSON-телом и заполненными ключами middleware
func newTestContext(method, path string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()

	var req *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}

	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set(ctxUserID, uint(7))
	c.Set(ctxAttemptID, uuid.New())
	c.Set(ctxQuestionID, uint(101))
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Ответ должен быть JSON: %s", w.Body.String())
	return resp
}

// ============================================================================
// Валидация запросов: обработчик отвечает 400 до обращения к сервису
// ============================================================================

func TestRecordAnswer_InvalidBody(t *testing.T) {
	handler := &AttemptHandler{} // nil service: до него дело не доходит

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "value is object", body: `{"value": {"x": 1}}`},
		{name: "options not array", body: `{"options": "A"}`},
		{name: "empty option in list", body: `{"options": ["A", ""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			c, w := newTestContext(http.MethodPut, "/api/attempts/x/answers/101", nil)
			c.Request, _ = http.NewRequest(http.MethodPut, "/api/attempts/x/answers/101", bytes.NewBufferString(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			// Act
			handler.RecordAnswer(c)

			// Assert
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid request data", decodeBody(t, w)["error"])
		})
	}
}

func TestNavigate_IndexRequired(t *testing.T) {
	handler := &AttemptHandler{}

	for name, body := range map[string]interface{}{
		"missing index":  map[string]interface{}{},
		"negative index": map[string]interface{}{"index": -1},
	} {
		t.Run(name, func(t *testing.T) {
			c, w := newTestContext(http.MethodPost, "/api/attempts/x/navigate", body)

			handler.Navigate(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetPalette_UnknownFilter(t *testing.T) {
	// Arrange
	handler := &AttemptHandler{}
	c, w := newTestContext(http.MethodGet, "/api/attempts/x/palette?type=ESSAY", nil)

	// Act
	handler.GetPalette(c)

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid filter", decodeBody(t, w)["error"])
}

// ============================================================================
// Преобразование ошибок в HTTP-статусы
// ============================================================================

func TestRespondAttemptError(t *testing.T) {
	denied := func(reason examengine.DenyReason) error {
		return &examengine.AccessDeniedError{Decision: examengine.AccessDecision{Reason: reason, AttemptsUsed: 2, AttemptsMax: 2}}
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"authentication required", denied(examengine.ReasonAuthenticationRequired), http.StatusUnauthorized},
		{"user not found", denied(examengine.ReasonUserNotFound), http.StatusNotFound},
		{"no subscription", denied(examengine.ReasonNoSubscription), http.StatusPaymentRequired},
		{"attempts exhausted", denied(examengine.ReasonAttemptsExhausted), http.StatusForbidden},
		{"not found", fmt.Errorf("%w: assessment 9", apperrors.ErrNotFound), http.StatusNotFound},
		{"conflict", apperrors.ErrConflict, http.StatusConflict},
		{"closed", apperrors.ErrAttemptClosed, http.StatusConflict},
		{"validation", examengine.ErrUnknownQuestion, http.StatusUnprocessableEntity},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden},
		{"unauthorized", apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{"unavailable", fmt.Errorf("%w: timeout", apperrors.ErrUnavailable), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext(http.MethodGet, "/", nil)

			respondAttemptError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRespondAttemptError_DeniedCarriesDecision(t *testing.T) {
	// Arrange
	c, w := newTestContext(http.MethodPost, "/", nil)
	err := &examengine.AccessDeniedError{Decision: examengine.AccessDecision{
		Reason: examengine.ReasonAttemptsExhausted, AttemptsUsed: 2, AttemptsMax: 2,
	}}

	// Act
	respondAttemptError(c, err)

	// Assert
	resp := decodeBody(t, w)
	assert.Equal(t, "attempts_exhausted", resp["reason"])
	decision := resp["decision"].(map[string]interface{})
	assert.Equal(t, float64(2), decision["attempts_used"])
	assert.Equal(t, false, decision["allowed"])
}

func TestRespondAttemptError_UnavailableSetsRetryAfter(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/", nil)

	respondAttemptError(c, apperrors.ErrUnavailable)

	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "storage temporarily", "Внутренняя причина не раскрывается")
}

func TestHandleMutationError_ClosedAttemptIsNotAnError(t *testing.T) {
	// Arrange
	handler := &AttemptHandler{}
	view := testView(entity.AttemptStatusExpired)
	c, w := newTestContext(http.MethodPut, "/", nil)

	// Act
	handler.handleMutationError(c, view, examengine.ErrDeadlinePassed)

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, false, resp["accepted"])
	assert.Equal(t, "deadline_passed", resp["reason"])
	require.Contains(t, resp, "result")
	assert.Equal(t, "expired", resp["result"].(map[string]interface{})["status"])
}

func TestHandleMutationError_OtherErrorsMapped(t *testing.T) {
	handler := &AttemptHandler{}
	c, w := newTestContext(http.MethodPut, "/", nil)

	handler.handleMutationError(c, nil, examengine.ErrAnswerShape)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// ============================================================================
// DTO и экспорт
// ============================================================================

func testView(status entity.AttemptStatus) *service.AttemptView {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	attempt := &entity.Attempt{
		ID:           uuid.New(),
		UserID:       7,
		AssessmentID: 1,
		Status:       status,
		Answers: entity.AnswerMap{
			101: {Type: entity.QuestionTypeMCQ, Option: "=SUM(A1)"},
		},
		Visited:    []uint{101},
		Bookmarked: []uint{},
		StartedAt:  start,
		Deadline:   start.Add(time.Minute),
		Bank: []entity.Question{
			{ID: 101, Type: entity.QuestionTypeMCQ, Text: "2+2?", Options: entity.StringArray{"3", "4"}, CorrectOptions: entity.StringArray{"B"}, Marks: 1, Explanation: "Арифметика"},
			{ID: 102, Type: entity.QuestionTypeNAT, Text: "Pi", CorrectValue: "3.14", Marks: 2},
		},
		Policy: datatypes.NewJSONType(entity.ScoringPolicy{}),
	}
	view := &service.AttemptView{
		Attempt:    attempt,
		Remaining:  attempt.Remaining(start.Add(500 * time.Millisecond)),
		ServerTime: start.Add(500 * time.Millisecond),
		Summary:    examengine.Summarize(attempt),
	}
	if status.IsTerminal() {
		view.Remaining = 0
		view.Result = examengine.Score(attempt)
		view.Result.TerminalStatus = status
	}
	return view
}

func TestNewAttemptResponse_HidesAnswerKeys(t *testing.T) {
	// Arrange
	view := testView(entity.AttemptStatusInProgress)

	// Act
	raw, err := json.Marshal(dto.NewAttemptResponse(view))

	// Assert
	require.NoError(t, err)
	body := string(raw)
	assert.NotContains(t, body, "correct_options")
	assert.NotContains(t, body, "correct_value")
	assert.NotContains(t, body, "Арифметика")
	assert.NotContains(t, body, "3.14")
	assert.Contains(t, body, `"remaining_sec":60`, "Оставшееся время округляется вверх")
}

func TestAnswerRequest_NumericValue(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"value": 3.14}`, "3.14"},
		{`{"value": "-0.5"}`, "-0.5"},
		{`{"value": 1e2}`, "1e2"},
	}
	for _, tt := range tests {
		var req dto.AnswerRequest
		require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

		in := req.ToInput()

		require.NotNil(t, in.Value)
		assert.Equal(t, tt.want, *in.Value)
		assert.Nil(t, in.Option)
	}
}

func TestExportXLSX_WritesReview(t *testing.T) {
	// Arrange
	handler := &AttemptHandler{}
	view := testView(entity.AttemptStatusSubmitted)
	review := dto.NewReviewResponse(view.Result, view.Attempt)
	c, w := newTestContext(http.MethodGet, "/", nil)

	// Act
	handler.exportXLSX(c, review, "attempt_result")

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attempt_result.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Результат")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 10)
	assert.Equal(t, "Отправлено", rows[0][1])
	assert.Equal(t, "'=SUM(A1)", rows[8][3], "Формулы в ответах экранируются")
	assert.Equal(t, "B", rows[8][4])
	assert.Equal(t, "3.14", rows[9][4])
}

func TestReviewResponse_RevealsKeysAfterCompletion(t *testing.T) {
	view := testView(entity.AttemptStatusSubmitted)

	review := dto.NewReviewResponse(view.Result, view.Attempt)

	require.Len(t, review.Items, 2)
	assert.Equal(t, []string{"B"}, review.Items[0].CorrectOptions)
	assert.Equal(t, "Арифметика", review.Items[0].Explanation)
	require.NotNil(t, review.Items[0].Answer)
	assert.Nil(t, review.Items[1].Answer, "На второй вопрос ответа нет")
	assert.Equal(t, entity.OutcomeUnattempted, review.Items[1].Outcome.Outcome)
}

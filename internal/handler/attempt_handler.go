package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/handler/dto"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
	"github.com/yourusername/mocktest-api/internal/service"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

// Ключи контекста gin, которые заполняют middleware
const (
	ctxUserID       = "user_id"
	ctxAssessmentID = "assessmentID"
	ctxAttemptID    = "attemptID"
	ctxQuestionID   = "questionID"
)

// AttemptHandler обрабатывает запросы прохождения теста
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler создает новый обработчик попыток
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// GetEligibility сообщает, может ли пользователь начать попытку
func (h *AttemptHandler) GetEligibility(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	assessmentID := c.MustGet(ctxAssessmentID).(uint)

	decision, err := h.attemptService.CanStart(c.Request.Context(), userID, assessmentID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// StartAttempt начинает новую попытку или возвращает уже активную
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	assessmentID := c.MustGet(ctxAssessmentID).(uint)

	view, resumed, err := h.attemptService.StartAttempt(c.Request.Context(), userID, assessmentID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"attempt": dto.NewAttemptResponse(view), "resumed": resumed})
}

// GetAttempt возвращает текущее состояние попытки с оставшимся временем
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	view, err := h.attemptService.GetAttemptState(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAttemptResponse(view))
}

// RecordAnswer сохраняет или перезаписывает ответ на вопрос
func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	var req dto.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)
	questionID := c.MustGet(ctxQuestionID).(uint)

	view, err := h.attemptService.RecordAnswer(c.Request.Context(), userID, attemptID, questionID, req.ToInput())
	if err != nil {
		h.handleMutationError(c, view, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "attempt": dto.NewAttemptResponse(view)})
}

// ClearAnswer удаляет ответ, вопрос снова считается неотвеченным
func (h *AttemptHandler) ClearAnswer(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)
	questionID := c.MustGet(ctxQuestionID).(uint)

	view, err := h.attemptService.ClearAnswer(c.Request.Context(), userID, attemptID, questionID)
	if err != nil {
		h.handleMutationError(c, view, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "attempt": dto.NewAttemptResponse(view)})
}

// ToggleBookmark переключает отметку "вернуться позже"
func (h *AttemptHandler) ToggleBookmark(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)
	questionID := c.MustGet(ctxQuestionID).(uint)

	view, bookmarked, err := h.attemptService.ToggleBookmark(c.Request.Context(), userID, attemptID, questionID)
	if err != nil {
		h.handleMutationError(c, view, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "bookmarked": bookmarked, "attempt": dto.NewAttemptResponse(view)})
}

// Navigate делает вопрос текущим и отмечает его посещённым
func (h *AttemptHandler) Navigate(c *gin.Context) {
	var req dto.NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	view, err := h.attemptService.Navigate(c.Request.Context(), userID, attemptID, *req.Index)
	if err != nil {
		h.handleMutationError(c, view, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "attempt": dto.NewAttemptResponse(view)})
}

// GetPalette возвращает панель навигации, опционально отфильтрованную по типу вопроса
func (h *AttemptHandler) GetPalette(c *gin.Context) {
	var query dto.PaletteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter", "details": err.Error()})
		return
	}
	filter, err := examengine.ParseFilter(query.Type)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	entries, view, err := h.attemptService.Palette(c.Request.Context(), userID, attemptID, filter)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	filterName := examengine.FilterAll
	if filter.Type != "" {
		filterName = string(filter.Type)
	}
	c.JSON(http.StatusOK, dto.PaletteResponse{
		Filter:       filterName,
		Entries:      entries,
		Summary:      view.Summary,
		RemainingSec: dto.NewAttemptResponse(view).RemainingSec,
	})
}

// SubmitAttempt завершает попытку. Повторная отправка возвращает тот же результат.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	view, accepted, err := h.attemptService.SubmitAttempt(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	resp := gin.H{"accepted": accepted, "attempt": dto.NewAttemptResponse(view)}
	if view.Result != nil {
		resp["result"] = dto.NewResultResponse(view.Result, true)
	}
	c.JSON(http.StatusOK, resp)
}

// GetResult возвращает итог попытки с разбором по вопросам
func (h *AttemptHandler) GetResult(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	result, attempt, err := h.attemptService.GetResult(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReviewResponse(result, attempt))
}

// ListMyResults возвращает результаты текущего пользователя с пагинацией
func (h *AttemptHandler) ListMyResults(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	results, total, err := h.attemptService.ListResults(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	c.JSON(http.StatusOK, dto.NewPaginatedResultResponse(results, total, page, pageSize))
}

// ExportResult выгружает разбор попытки в Excel
func (h *AttemptHandler) ExportResult(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	result, attempt, err := h.attemptService.GetResult(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.handleAttemptError(c, err)
		return
	}

	filename := fmt.Sprintf("attempt_%s_result", attemptID.String()[:8])
	h.exportXLSX(c, dto.NewReviewResponse(result, attempt), filename)
}

// exportXLSX пишет разбор в Excel через StreamWriter
func (h *AttemptHandler) exportXLSX(c *gin.Context, review *dto.ReviewResponse, filename string) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Результат"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[AttemptHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	r := review.Result
	summary := [][]interface{}{
		{"Статус", translateStatus(r.Status)},
		{"Итоговый балл", r.FinalScore},
		{"Максимум", r.TotalMarks},
		{"Процент", r.Percentage},
		{"Штраф", r.NegativeMarks},
		{"Завершено", r.CompletedAt.Format("2006-01-02 15:04:05 MST")},
	}
	row := 1
	for _, line := range summary {
		if err := sw.SetRow(fmt.Sprintf("A%d", row), line); err != nil {
			log.Printf("[AttemptHandler] Ошибка записи строки %d: %v", row, err)
		}
		row++
	}
	row++

	headers := []interface{}{"№", "Тип", "Вопрос", "Ваш ответ", "Правильный ответ", "Результат", "Баллы", "Штраф"}
	if err := sw.SetRow(fmt.Sprintf("A%d", row), headers); err != nil {
		log.Printf("[AttemptHandler] Ошибка записи заголовков: %v", err)
	}
	row++

	for _, item := range review.Items {
		line := []interface{}{
			item.Question.Index + 1,
			string(item.Question.Type),
			sanitizeForExcel(item.Question.Text),
			sanitizeForExcel(formatAnswer(item.Answer)),
			sanitizeForExcel(formatKey(item)),
			translateOutcome(item.Outcome),
			item.Outcome.Awarded,
			item.Outcome.Deducted,
		}
		if err := sw.SetRow(fmt.Sprintf("A%d", row), line); err != nil {
			log.Printf("[AttemptHandler] Ошибка записи строки %d: %v", row, err)
		}
		row++
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[AttemptHandler] Ошибка при Flush: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[AttemptHandler] Ошибка записи Excel в response: %v", err)
	}
}

// handleMutationError отвечает на изменение завершённой попытки.
// Такой запрос не ошибка клиента: возвращаем accepted=false и итог.
func (h *AttemptHandler) handleMutationError(c *gin.Context, view *service.AttemptView, err error) {
	if view != nil && errors.Is(err, apperrors.ErrAttemptClosed) {
		resp := gin.H{"accepted": false, "reason": closedReason(err), "attempt": dto.NewAttemptResponse(view)}
		if view.Result != nil {
			resp["result"] = dto.NewResultResponse(view.Result, true)
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	h.handleAttemptError(c, err)
}

func closedReason(err error) string {
	if errors.Is(err, examengine.ErrDeadlinePassed) {
		return "deadline_passed"
	}
	return "attempt_closed"
}

func (h *AttemptHandler) handleAttemptError(c *gin.Context, err error) {
	respondAttemptError(c, err)
}

// respondAttemptError преобразует ошибки сервиса в HTTP-ответы
func respondAttemptError(c *gin.Context, err error) {
	var denied *examengine.AccessDeniedError
	if errors.As(err, &denied) {
		c.JSON(deniedStatus(denied.Decision.Reason), gin.H{
			"error":    err.Error(),
			"reason":   denied.Decision.Reason,
			"decision": denied.Decision,
		})
		return
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrAttemptClosed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "attempt_closed"})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnavailable) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable, retry the request"})
	} else {
		log.Printf("[AttemptHandler] Внутренняя ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func deniedStatus(reason examengine.DenyReason) int {
	switch reason {
	case examengine.ReasonAuthenticationRequired:
		return http.StatusUnauthorized
	case examengine.ReasonUserNotFound:
		return http.StatusNotFound
	case examengine.ReasonNoSubscription:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

func formatAnswer(a *entity.Answer) string {
	if a == nil {
		return ""
	}
	switch a.Type {
	case entity.QuestionTypeMCQ:
		return a.Option
	case entity.QuestionTypeMSQ:
		return joinOptions(a.Options)
	case entity.QuestionTypeNAT:
		return a.Value
	default:
		return a.Text
	}
}

func formatKey(item dto.ReviewItem) string {
	if item.Question.Type == entity.QuestionTypeNAT || item.Question.Type == entity.QuestionTypeDescriptive {
		return item.CorrectValue
	}
	return joinOptions(item.CorrectOptions)
}

func joinOptions(options []string) string {
	s := ""
	for i, o := range options {
		if i > 0 {
			s += ", "
		}
		s += o
	}
	return s
}

func translateStatus(s entity.AttemptStatus) string {
	switch s {
	case entity.AttemptStatusSubmitted:
		return "Отправлено"
	case entity.AttemptStatusExpired:
		return "Время истекло"
	default:
		return "В процессе"
	}
}

func translateOutcome(o entity.QuestionOutcome) string {
	if o.NeedsManual {
		return "На проверке"
	}
	switch o.Outcome {
	case entity.OutcomeCorrect:
		return "Верно"
	case entity.OutcomeIncorrect:
		return "Неверно"
	default:
		return "Без ответа"
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
)

const notifyTimeout = 30 * time.Second

// ResultNotifier сообщает пользователю об итогах завершённой попытки.
// Вызывается ровно один раз, победителем перехода в конечный статус.
type ResultNotifier interface {
	NotifyResult(attempt *entity.Attempt, result *entity.Result)
}

// NoopResultNotifier используется, когда отправка писем отключена
type NoopResultNotifier struct{}

func (NoopResultNotifier) NotifyResult(attempt *entity.Attempt, result *entity.Result) {
	log.Printf("[ResultNotifier] noop: попытка %s завершена со статусом %s", attempt.ID, result.TerminalStatus)
}

// ResendResultNotifier отправляет письмо с итогами через Resend REST API
type ResendResultNotifier struct {
	from    string
	client  *resend.Client
	users   repository.UserRepository
	catalog *CatalogService
}

func NewResendResultNotifier(apiKey, from string, users repository.UserRepository, catalog *CatalogService) (*ResendResultNotifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	return &ResendResultNotifier{
		from:    from,
		client:  resend.NewClient(apiKey),
		users:   users,
		catalog: catalog,
	}, nil
}

// NotifyResult отправляет письмо в фоне. Ошибки только логируются:
// письмо не влияет на состояние попытки.
func (n *ResendResultNotifier) NotifyResult(attempt *entity.Attempt, result *entity.Result) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := n.send(ctx, attempt, result); err != nil {
			log.Printf("[ResultNotifier] Ошибка отправки итогов попытки %s: %v", attempt.ID, err)
		}
	}()
}

func (n *ResendResultNotifier) send(ctx context.Context, attempt *entity.Attempt, result *entity.Result) error {
	user, err := n.users.GetByID(ctx, attempt.UserID)
	if err != nil {
		return fmt.Errorf("lookup user #%d: %w", attempt.UserID, err)
	}
	if user.Email == "" || !user.IsActive() {
		return nil
	}

	title := fmt.Sprintf("Mock test #%d", attempt.AssessmentID)
	if assessment, err := n.catalog.GetAssessment(ctx, attempt.AssessmentID); err == nil {
		title = assessment.Title
	}

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{user.Email},
		Subject: fmt.Sprintf("Your result: %s", title),
		Text:    resultText(user, title, result),
		Html:    resultHTML(user, title, result),
	}
	options := &resend.SendEmailOptions{IdempotencyKey: "result-" + attempt.ID.String()}

	var lastErr error
	for try := 0; try < 3; try++ {
		_, err := n.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			log.Printf("[ResultNotifier] Итоги попытки %s отправлены на %s", attempt.ID, user.Email)
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, try); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func resultText(user *entity.User, title string, r *entity.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.DisplayName())
	if r.TerminalStatus == entity.AttemptStatusExpired {
		fmt.Fprintf(&b, "Time ran out on %q and your answers were submitted automatically.\n", title)
	} else {
		fmt.Fprintf(&b, "You have submitted %q.\n", title)
	}
	fmt.Fprintf(&b, "Score: %s of %s (%s%%)\n", formatScore(r.FinalScore), formatScore(r.TotalMarks), formatScore(r.Percentage))
	fmt.Fprintf(&b, "Correct: %d, incorrect: %d, unattempted: %d\n", r.CorrectCount, r.IncorrectCount, r.UnattemptedCount)
	if r.PendingReview > 0 {
		fmt.Fprintf(&b, "%d answer(s) will be reviewed manually.\n", r.PendingReview)
	}
	return b.String()
}

func resultHTML(user *entity.User, title string, r *entity.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hi %s,</p>", htmlEscape(user.DisplayName()))
	fmt.Fprintf(&b, "<p>Result for <strong>%s</strong>: %s of %s (%s%%)</p>",
		htmlEscape(title), formatScore(r.FinalScore), formatScore(r.TotalMarks), formatScore(r.Percentage))
	fmt.Fprintf(&b, "<p>Correct: %d, incorrect: %d, unattempted: %d</p>", r.CorrectCount, r.IncorrectCount, r.UnattemptedCount)
	return b.String()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")

func htmlEscape(s string) string {
	return htmlReplacer.Replace(s)
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}

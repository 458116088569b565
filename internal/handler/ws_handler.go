package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/mocktest-api/internal/handler/dto"
	"github.com/yourusername/mocktest-api/internal/service"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

const (
	// Время на запись сообщения клиенту
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 30 * time.Second

	// Период отправки ping, меньше pongWait
	pingPeriod = (pongWait * 9) / 10
)

// TimerStreamHandler транслирует клиенту серверный обратный отсчёт попытки.
// Клиент только отображает время, истечение решает сервер.
type TimerStreamHandler struct {
	attemptService *service.AttemptService
	upgrader       gorillaws.Upgrader
}

// NewTimerStreamHandler создает обработчик потока таймера
func NewTimerStreamHandler(attemptService *service.AttemptService, allowedOrigins []string) *TimerStreamHandler {
	return &TimerStreamHandler{
		attemptService: attemptService,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			CheckOrigin:       originChecker(allowedOrigins),
			EnableCompression: true,
		},
	}
}

// originChecker разрешает клиентов без Origin (мобильные приложения)
// и браузеры из списка, синхронизированного с CORS
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		log.Printf("[TimerStream] Отклонён неразрешённый origin: %s", origin)
		return false
	}
}

// HandleTimer открывает поток тиков для попытки пользователя
func (h *TimerStreamHandler) HandleTimer(c *gin.Context) {
	userID := c.MustGet(ctxUserID).(uint)
	attemptID := c.MustGet(ctxAttemptID).(uuid.UUID)

	// Проверяем владельца до апгрейда, чтобы вернуть обычный HTTP-статус
	view, events, unsubscribe, err := h.attemptService.WatchTimer(c.Request.Context(), userID, attemptID)
	if err != nil {
		respondAttemptError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[TimerStream] Ошибка апгрейда соединения для попытки %s: %v", attemptID, err)
		return
	}
	defer conn.Close()

	if events == nil {
		h.writeEvent(conn, examengine.TickEvent{AttemptID: attemptID, Finished: true})
		h.closeNormal(conn)
		return
	}
	remaining := dto.NewAttemptResponse(view).RemainingSec

	// Первое значение отправляем сразу, не дожидаясь тика
	if err := h.writeEvent(conn, examengine.TickEvent{AttemptID: attemptID, RemainingSec: remaining}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.closeNormal(conn)
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				log.Printf("[TimerStream] Ошибка отправки тика попытки %s: %v", attemptID, err)
				return
			}
			if event.Finished {
				h.closeNormal(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump читает только управляющие кадры: pong продлевает дедлайн,
// ошибка чтения означает, что клиент ушёл
func (h *TimerStreamHandler) readPump(conn *gorillaws.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				log.Printf("[TimerStream] Неожиданное закрытие соединения: %v", err)
			}
			return
		}
	}
}

func (h *TimerStreamHandler) writeEvent(conn *gorillaws.Conn, event examengine.TickEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func (h *TimerStreamHandler) closeNormal(conn *gorillaws.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "attempt finished"))
}

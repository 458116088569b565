package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/mocktest-api/internal/config"
	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/handler"
	"github.com/yourusername/mocktest-api/internal/handler/dto"
	"github.com/yourusername/mocktest-api/internal/middleware"
	pgRepo "github.com/yourusername/mocktest-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/mocktest-api/internal/repository/redis"
	"github.com/yourusername/mocktest-api/internal/service"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
	"github.com/yourusername/mocktest-api/pkg/auth"
	"github.com/yourusername/mocktest-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), database.DefaultPoolConfig(), !isProduction)
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer database.Close(db)

	// Применяем миграции
	if err := database.MigrateDB(db, os.Getenv("MIGRATIONS_DIR")); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Один клиент Redis на кеш и rate limiter, ключи разделены общим префиксом
	redisClient, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	assessmentRepo := pgRepo.NewAssessmentRepo(db)
	attemptRepo := pgRepo.NewAttemptRepo(db)
	resultRepo := pgRepo.NewResultRepo(db)
	entitlementRepo := pgRepo.NewEntitlementRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient, cfg.Redis.KeyPrefix)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// --- Движок попыток ---
	engineConfig := newEngineConfig(cfg.Exam)
	clock := examengine.SystemClock{}

	catalogService := service.NewCatalogService(assessmentRepo, cacheRepo, cfg.Exam.CatalogCacheTTL)
	evaluator := examengine.NewAccessEvaluator(engineConfig, userRepo, attemptRepo, entitlementRepo, clock)
	expiryTimer := examengine.NewExpiryTimer(engineConfig, clock)

	var notifier service.ResultNotifier = service.NoopResultNotifier{}
	if cfg.Email.Enabled {
		from := cfg.Email.FromEmail
		if cfg.Email.FromName != "" {
			from = cfg.Email.FromName + " <" + cfg.Email.FromEmail + ">"
		}
		resendNotifier, err := service.NewResendResultNotifier(cfg.Email.APIKey, from, userRepo, catalogService)
		if err != nil {
			log.Printf("Failed to initialize result notifier: %v", err)
			os.Exit(1)
		}
		notifier = resendNotifier
		log.Println("Email-уведомления о результатах включены")
	}

	attemptService := service.NewAttemptService(
		engineConfig,
		catalogService,
		attemptRepo,
		resultRepo,
		evaluator,
		expiryTimer,
		clock,
		notifier,
		cacheRepo,
	)

	// Создаем контекст с отменой для корректного завершения работы горутин
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Таймер и восстановление отсчётов после перезапуска
	if err := attemptService.Start(ctx); err != nil {
		log.Printf("Failed to resume attempt timers: %v", err)
		os.Exit(1)
	}

	// Фоновая проверка просроченных попыток на случай пропущенных таймеров
	sweeper := examengine.NewSweeper(engineConfig, attemptRepo, clock, attemptService.ExpireFunc())
	if err := sweeper.Start(); err != nil {
		log.Printf("Failed to start sweeper: %v", err)
		os.Exit(1)
	}

	// --- Аутентификация ---
	identityService, err := auth.NewIdentityService(cfg.Identity.Secret, cfg.Identity.Issuer, cfg.Identity.TokenTTLHours)
	if err != nil {
		log.Printf("Failed to initialize IdentityService: %v", err)
		os.Exit(1)
	}
	authMiddleware := middleware.NewAuthMiddleware(identityService)
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.Redis.KeyPrefix)

	// Инициализируем обработчики
	if err := dto.RegisterValidators(); err != nil {
		log.Printf("Failed to register validators: %v", err)
		os.Exit(1)
	}
	attemptHandler := handler.NewAttemptHandler(attemptService)
	timerHandler := handler.NewTimerStreamHandler(attemptService, cfg.Server.AllowedOrigins)

	// Настраиваем Gin
	router := gin.Default()

	if isProduction {
		// Production: не доверять прокси-заголовкам
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		// Development: доверяем localhost
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	answerLimit := rateLimiter.Limit(middleware.AttemptWriteRateLimitConfig(cfg.Exam.AnswerRateLimit))

	// Настраиваем маршруты API
	api := router.Group("/api")
	api.Use(authMiddleware.RequireAuth())
	{
		// Тесты каталога
		assessments := api.Group("/assessments/:id")
		assessments.Use(middleware.ExtractUintParam("id", "assessmentID"))
		{
			assessments.GET("/eligibility", attemptHandler.GetEligibility)
			assessments.POST("/attempts", rateLimiter.Limit(middleware.StartRateLimitConfig()), attemptHandler.StartAttempt)
		}

		// Попытки
		attempts := api.Group("/attempts/:attemptId")
		attempts.Use(middleware.ExtractUUIDParam("attemptId", "attemptID"))
		{
			attempts.GET("", attemptHandler.GetAttempt)
			attempts.GET("/palette", attemptHandler.GetPalette)
			attempts.POST("/navigate", answerLimit, attemptHandler.Navigate)
			attempts.POST("/submit", attemptHandler.SubmitAttempt)
			attempts.GET("/result", attemptHandler.GetResult)
			attempts.GET("/result/export", attemptHandler.ExportResult)

			// Маршруты, требующие questionID
			questions := attempts.Group("")
			questions.Use(middleware.ExtractUintParam("questionId", "questionID"))
			{
				questions.PUT("/answers/:questionId", answerLimit, attemptHandler.RecordAnswer)
				questions.DELETE("/answers/:questionId", answerLimit, attemptHandler.ClearAnswer)
				questions.POST("/bookmarks/:questionId", answerLimit, attemptHandler.ToggleBookmark)
			}
		}

		// Результаты текущего пользователя
		api.GET("/me/results", attemptHandler.ListMyResults)
	}

	// WebSocket: серверный обратный отсчёт попытки
	ws := router.Group("/ws")
	ws.Use(authMiddleware.RequireAuth())
	{
		ws.GET("/attempts/:attemptId/timer", middleware.ExtractUUIDParam("attemptId", "attemptID"), timerHandler.HandleTimer)
	}

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	// После получения сигнала SIGINT или SIGTERM останавливаем сервер и фоновые задачи
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Незавершённые попытки продолжат отсчёт после рестарта: дедлайн хранится в БД
	sweeper.Stop()
	attemptService.Stop()
	cancel()

	log.Println("Server exited properly")
}

// newEngineConfig переносит настройки из конфигурации поверх умолчаний движка
func newEngineConfig(exam config.ExamConfig) *examengine.Config {
	c := examengine.DefaultConfig()
	if exam.FreeMaxAttempts > 0 {
		c.FreeMaxAttempts = exam.FreeMaxAttempts
	}
	if exam.PaidMaxAttempts > 0 {
		c.PaidMaxAttempts = exam.PaidMaxAttempts
	}
	c.DefaultPolicy = entity.ScoringPolicy{
		NegativeMCQ: exam.NegativeMCQ,
		NegativeMSQ: exam.NegativeMSQ,
		NegativeNAT: exam.NegativeNAT,
		NATEpsilon:  exam.NATEpsilon,
		ScoreFloor:  exam.ScoreFloor,
	}
	if exam.TickInterval > 0 {
		c.TickInterval = exam.TickInterval
	}
	if exam.RetryInterval > 0 {
		c.RetryInterval = exam.RetryInterval
	}
	if exam.MaxRetryInterval > 0 {
		c.MaxRetryInterval = exam.MaxRetryInterval
	}
	if exam.SweepSpec != "" {
		c.SweepSpec = exam.SweepSpec
	}
	if exam.SweepBatch > 0 {
		c.SweepBatch = exam.SweepBatch
	}
	return c
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

const catalogLoadTimeout = 5 * time.Second

// CatalogService читает определения тестов с вопросами.
// Каталог меняется редко, поэтому определения кешируются в Redis.
type CatalogService struct {
	assessments repository.AssessmentRepository
	cache       repository.CacheRepository
	ttl         time.Duration
	group       singleflight.Group
}

// NewCatalogService создает новый сервис каталога.
// cache может быть nil, тогда каждое обращение идёт в базу.
func NewCatalogService(assessments repository.AssessmentRepository, cache repository.CacheRepository, ttl time.Duration) *CatalogService {
	return &CatalogService{
		assessments: assessments,
		cache:       cache,
		ttl:         ttl,
	}
}

func assessmentCacheKey(id uint) string {
	return fmt.Sprintf("assessment:%d", id)
}

// GetAssessment возвращает тест с вопросами в каноническом порядке
func (s *CatalogService) GetAssessment(ctx context.Context, id uint) (*entity.Assessment, error) {
	key := assessmentCacheKey(id)

	if s.cache != nil {
		var cached entity.Assessment
		err := s.cache.GetJSON(key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Printf("[CatalogService] Ошибка чтения кеша для теста #%d: %v", id, err)
		}
	}

	// Одновременные промахи кеша по одному тесту дают один запрос в базу.
	// Загрузка не зависит от отмены запроса, который её начал.
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()

		assessment, err := s.assessments.GetWithQuestions(loadCtx, id)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetJSON(key, assessment, s.ttl); err != nil {
				log.Printf("[CatalogService] Ошибка записи кеша для теста #%d: %v", id, err)
			}
		}
		return assessment, nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load assessment #%d: %v", apperrors.ErrUnavailable, id, err)
	}

	// Копия, чтобы вызывающие не делили один объект
	assessment := *value.(*entity.Assessment)
	assessment.Questions = append([]entity.Question(nil), assessment.Questions...)
	return &assessment, nil
}

// Invalidate удаляет тест из кеша после изменения каталога
func (s *CatalogService) Invalidate(id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(assessmentCacheKey(id)); err != nil {
		log.Printf("[CatalogService] Ошибка инвалидации кеша для теста #%d: %v", id, err)
	}
}

// ResolvePolicy накладывает переопределения теста на политику по умолчанию
func ResolvePolicy(assessment *entity.Assessment, base entity.ScoringPolicy) entity.ScoringPolicy {
	return assessment.Scoring.Data().Apply(base)
}

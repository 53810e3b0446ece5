// Package redis decorates a persistence backend with a read-through
// survey cache and a submitted-marker fast path. The cache is strictly
// best-effort: any redis failure falls back to the inner store.
package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"course-survey-service/internal/app"
	"course-survey-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache implements app.Store by delegating to an inner store and caching
// the hot read paths of the submit flow:
//   - survey documents:   SET survey:{id} {json} EX ttl
//   - submitted markers:  SET submitted:{surveyID}:{clientID} 1 EX ttl
//
// Markers only ever cache a positive answer; a missing marker always
// falls through to the inner store, so expiry costs a query, never
// correctness.
type Cache struct {
	inner  app.Store
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCache(client *redis.Client, inner app.Store, ttl time.Duration) *Cache {
	return &Cache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Cache) Init(ctx context.Context) error { return c.inner.Init(ctx) }

func (c *Cache) Close() error { return c.inner.Close() }

func (c *Cache) GetSurvey(ctx context.Context, id string) (domain.Survey, error) {
	if survey, ok := c.cachedSurvey(ctx, id); ok {
		return survey, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if survey, ok := c.cachedSurvey(ctx, id); ok {
			return survey, nil
		}
		survey, err := c.inner.GetSurvey(ctx, id)
		if err != nil {
			return domain.Survey{}, err
		}
		if data, err := json.Marshal(survey); err == nil {
			_ = c.client.Set(ctx, surveyKey(id), data, c.ttlWithJitter()).Err()
		}
		return survey, nil
	})
	if err != nil {
		return domain.Survey{}, err
	}
	return result.(domain.Survey), nil
}

func (c *Cache) cachedSurvey(ctx context.Context, id string) (domain.Survey, bool) {
	data, err := c.client.Get(ctx, surveyKey(id)).Bytes()
	if err != nil {
		return domain.Survey{}, false
	}
	var survey domain.Survey
	if err := json.Unmarshal(data, &survey); err != nil {
		return domain.Survey{}, false
	}
	return survey, true
}

func (c *Cache) CreateSurvey(ctx context.Context, survey domain.NewSurvey) (string, error) {
	return c.inner.CreateSurvey(ctx, survey)
}

func (c *Cache) GetSurveys(ctx context.Context, publishedOnly bool) ([]domain.Survey, error) {
	return c.inner.GetSurveys(ctx, publishedOnly)
}

func (c *Cache) UpdateSurvey(ctx context.Context, id string, update domain.SurveyUpdate) error {
	if err := c.inner.UpdateSurvey(ctx, id, update); err != nil {
		return err
	}
	_ = c.client.Del(ctx, surveyKey(id)).Err()
	return nil
}

func (c *Cache) DeleteSurvey(ctx context.Context, id string) error {
	if err := c.inner.DeleteSurvey(ctx, id); err != nil {
		return err
	}
	_ = c.client.Del(ctx, surveyKey(id)).Err()
	return nil
}

func (c *Cache) CreateSubmission(ctx context.Context, sub domain.NewSubmission, updateStats bool) (string, error) {
	id, err := c.inner.CreateSubmission(ctx, sub, updateStats)
	if err != nil {
		return "", err
	}
	_ = c.client.Set(ctx, submittedKey(sub.SurveyID, sub.ClientID), "1", c.ttl).Err()
	return id, nil
}

func (c *Cache) HasSubmittedSurvey(ctx context.Context, surveyID, clientID string) (bool, error) {
	if n, err := c.client.Exists(ctx, submittedKey(surveyID, clientID)).Result(); err == nil && n > 0 {
		return true, nil
	}
	submitted, err := c.inner.HasSubmittedSurvey(ctx, surveyID, clientID)
	if err != nil {
		return false, err
	}
	if submitted {
		_ = c.client.Set(ctx, submittedKey(surveyID, clientID), "1", c.ttl).Err()
	}
	return submitted, nil
}

func (c *Cache) CheckRecentSubmission(ctx context.Context, surveyID, clientID string, window time.Duration) (bool, error) {
	return c.inner.CheckRecentSubmission(ctx, surveyID, clientID, window)
}

func (c *Cache) GetSurveySubmissions(ctx context.Context, surveyID string, limit, offset int) ([]domain.Submission, error) {
	return c.inner.GetSurveySubmissions(ctx, surveyID, limit, offset)
}

func (c *Cache) GetSurveyStats(ctx context.Context, surveyID string) (domain.SurveyStats, error) {
	return c.inner.GetSurveyStats(ctx, surveyID)
}

func (c *Cache) GetQuestionStat(ctx context.Context, surveyID, questionID string) (domain.QuestionStat, bool, error) {
	return c.inner.GetQuestionStat(ctx, surveyID, questionID)
}

func (c *Cache) GetAllQuestionStats(ctx context.Context, surveyID string) ([]domain.QuestionStat, error) {
	return c.inner.GetAllQuestionStats(ctx, surveyID)
}

func (c *Cache) RecordAnswer(ctx context.Context, surveyID, questionID, optionID string, wasCorrect bool) error {
	return c.inner.RecordAnswer(ctx, surveyID, questionID, optionID, wasCorrect)
}

func surveyKey(id string) string { return "survey:" + id }

func submittedKey(surveyID, clientID string) string {
	return "submitted:" + surveyID + ":" + clientID
}

func (c *Cache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

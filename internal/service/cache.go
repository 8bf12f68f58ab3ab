// cache.go — LRU-кэш записей о файлах с TTL для пути скачивания.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/fileshare/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей о файлах.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей о файлах.",
	})
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_cache_entries",
		Help: "Количество записей в LRU-кэше на момент последнего изменения.",
	})
)

// CacheService — LRU-кэш записей о файлах с автоматическим TTL.
// Кэш у каждого экземпляра свой; поля, влияющие на решение о доступе
// (кроме адресата), неизменны, поэтому устаревание безопасно.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(locator string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(locator)
	if ok {
		cacheHitsTotal.Inc()
		return cloneRecord(val), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше (сохраняется копия).
func (c *CacheService) Set(record *model.FileRecord) {
	c.cache.Add(record.Locator, cloneRecord(record))
	cacheEntries.Set(float64(c.Len()))
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(locator string) {
	c.cache.Remove(locator)
	cacheEntries.Set(float64(c.Len()))
}

// Len — количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

func cloneRecord(r *model.FileRecord) *model.FileRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.RecipientEmail != nil {
		email := *r.RecipientEmail
		cp.RecipientEmail = &email
	}
	return &cp
}

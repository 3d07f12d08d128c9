package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_cache_lookups_total",
	Help: "Обращения к кэшу управляемых файлов по результату (hit, miss).",
}, []string{"result"})

var cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_cache_evictions_total",
	Help: "Записи, покинувшие кэш: TTL, вытеснение по размеру или инвалидация.",
})

// CacheService — expirable LRU записей реестра, ключ — ID файла.
// Запись сбрасывается при удалении файла и при переносе его папки.
type CacheService struct {
	lru *expirable.LRU[string, *model.ManagedFile]
}

// NewCacheService — кэш не больше maxSize записей, каждая живёт ttl.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	onEvict := func(string, *model.ManagedFile) { cacheEvictions.Inc() }
	return &CacheService{lru: expirable.NewLRU[string, *model.ManagedFile](maxSize, onEvict, ttl)}
}

func (c *CacheService) Get(id string) (*model.ManagedFile, bool) {
	f, ok := c.lru.Get(id)
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return f, true
}

func (c *CacheService) Set(f *model.ManagedFile) {
	c.lru.Add(f.ID, f)
}

// Invalidate сбрасывает записи с указанными ID; отсутствующие пропускаются.
func (c *CacheService) Invalidate(ids ...string) {
	for _, id := range ids {
		c.lru.Remove(id)
	}
}

func (c *CacheService) Len() int {
	return c.lru.Len()
}

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы импорта для метрик.
const (
	resultStored       = "stored"
	resultDeduplicated = "deduplicated"
	resultFailed       = "failed"
)

// Prometheus-метрики импорта.
var (
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_imports_total",
		Help: "Общее количество импортов по виду ресурса и исходу",
	}, []string{"kind", "result"})

	importErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_import_errors_total",
		Help: "Ошибки импорта по коду",
	}, []string{"code"})

	importDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archive_import_duration_seconds",
		Help:    "Длительность импорта одного файла в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"kind"})

	importedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_imported_bytes_total",
		Help: "Объём нового содержимого, записанного в хранилище",
	})
)

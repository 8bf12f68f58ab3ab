// metrics.go — Prometheus-метрики операций с файлами.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_ingest_total",
		Help: "Количество загрузок файлов по результату (success, rejected, error).",
	}, []string{"result"})

	ingestBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_ingest_bytes_total",
		Help: "Суммарный объём загруженного содержимого в байтах.",
	})

	sharesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_shares_total",
		Help: "Количество отправок ссылок по результату (success, rejected, denied, error).",
	}, []string{"result"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_downloads_total",
		Help: "Количество скачиваний по каналу и результату (success, denied, error).",
	}, []string{"channel", "result"})

	accessDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_access_denied_total",
		Help: "Количество отказов политики доступа по действию и причине.",
	}, []string{"action", "reason"})
)

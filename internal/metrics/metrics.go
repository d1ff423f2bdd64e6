// Package metrics exports cache statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"goflare.io/larder/internal/models"
)

const namespace = "larder"

// Source is anything that reports cache stats under a name.
type Source interface {
	Name() string
	Stats() models.Stats
}

var (
	hitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hits_total"),
		"Total number of cache hits",
		[]string{"cache"}, nil,
	)
	missesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "misses_total"),
		"Total number of cache misses, including expired and stale entries",
		[]string{"cache"}, nil,
	)
	setsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "sets_total"),
		"Total number of successful writes",
		[]string{"cache"}, nil,
	)
	deletesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "deletes_total"),
		"Total number of entries deleted explicitly, by invalidation or by expiry",
		[]string{"cache"}, nil,
	)
	evictionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "evictions_total"),
		"Total number of entries evicted for capacity",
		[]string{"cache"}, nil,
	)
	bytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "bytes"),
		"Current stored size in bytes",
		[]string{"cache"}, nil,
	)
	itemsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "items"),
		"Current number of entries",
		[]string{"cache"}, nil,
	)
	hitRatioDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hit_ratio"),
		"Hits divided by lookups since the last clear",
		[]string{"cache"}, nil,
	)
)

// Collector reads the stats of every registered cache at scrape time.
type Collector struct {
	mu      sync.RWMutex
	sources []Source
}

// NewCollector 創建收集器
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Add registers more caches.
func (c *Collector) Add(sources ...Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, sources...)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		hitsDesc, missesDesc, setsDesc, deletesDesc, evictionsDesc,
		bytesDesc, itemsDesc, hitRatioDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, src := range c.sources {
		name := src.Name()
		s := src.Stats()
		ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(setsDesc, prometheus.CounterValue, float64(s.Sets), name)
		ch <- prometheus.MustNewConstMetric(deletesDesc, prometheus.CounterValue, float64(s.Deletes), name)
		ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue, float64(s.Evictions), name)
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.GaugeValue, float64(s.TotalBytes), name)
		ch <- prometheus.MustNewConstMetric(itemsDesc, prometheus.GaugeValue, float64(s.ItemCount), name)
		ch <- prometheus.MustNewConstMetric(hitRatioDesc, prometheus.GaugeValue, s.HitRate, name)
	}
}

package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	CyclesRun          int64
	ArticlesPublished  int64
	DuplicatesSkipped  int64
	TooLongRejected    int64
	CycleFailures      int64
	PostsByDestination map[string]int64

	// Timings
	LastCycleDuration    time.Duration
	AverageCycleDuration time.Duration
	TotalCycleDuration   time.Duration

	// Status
	LastRunTime       time.Time
	LastPublishedURL  string
	LastPublishedTime time.Time
	LastErrorTime     time.Time
	LastError         string
	IsHealthy         bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true, PostsByDestination: make(map[string]int64)}
}

func (m *Metrics) IncrementDuplicates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesSkipped++
}

func (m *Metrics) IncrementTooLong() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TooLongRejected++
}

func (m *Metrics) IncrementPosts(destination string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostsByDestination[destination]++
}

func (m *Metrics) RecordPublished(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesPublished++
	m.LastPublishedURL = url
	m.LastPublishedTime = time.Now()
}

// RecordCycle closes a cycle; a cycle that did not fail marks the bot healthy again.
func (m *Metrics) RecordCycle(duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CyclesRun++
	m.LastRunTime = time.Now()
	m.LastCycleDuration = duration
	m.TotalCycleDuration += duration
	m.AverageCycleDuration = m.TotalCycleDuration / time.Duration(m.CyclesRun)
	if failed {
		m.CycleFailures++
	} else {
		m.IsHealthy = true
	}
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posts := make(map[string]int64, len(m.PostsByDestination))
	for k, v := range m.PostsByDestination {
		posts[k] = v
	}

	return map[string]interface{}{
		"cycles_run":            m.CyclesRun,
		"articles_published":    m.ArticlesPublished,
		"duplicates_skipped":    m.DuplicatesSkipped,
		"too_long_rejected":     m.TooLongRejected,
		"cycle_failures":        m.CycleFailures,
		"posts_by_destination":  posts,
		"last_cycle_time_ms":    m.LastCycleDuration.Milliseconds(),
		"average_cycle_time_ms": m.AverageCycleDuration.Milliseconds(),
		"last_run_time":         m.LastRunTime.Format(time.RFC3339),
		"last_published_url":    m.LastPublishedURL,
		"last_published_time":   m.LastPublishedTime.Format(time.RFC3339),
		"last_error_time":       m.LastErrorTime.Format(time.RFC3339),
		"last_error":            m.LastError,
		"is_healthy":            m.IsHealthy,
	}
}

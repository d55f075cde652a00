package trace

import (
	"sync"
	"time"
)

const defaultTrackerHistory = 100

// Tracker 在内存中保留最近若干次执行结果,供指标与排障使用。
// 它是显式依赖,由进程装配时注入,不存在包级单例。
type Tracker struct {
	mu      sync.RWMutex
	maxSize int
	order   []string
	results map[string]*Result
}

// MetricsSummary 是 Tracker 的聚合视图。
type MetricsSummary struct {
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
	MinDuration time.Duration  `json:"min_duration"`
	AvgDuration time.Duration  `json:"avg_duration"`
	MaxDuration time.Duration  `json:"max_duration"`
	ByKind      map[string]int `json:"by_kind"`
}

// NewTracker 创建容量受限的执行追踪器。
func NewTracker(maxSize int) *Tracker {
	if maxSize <= 0 {
		maxSize = defaultTrackerHistory
	}
	return &Tracker{
		maxSize: maxSize,
		results: make(map[string]*Result),
	}
}

// Register 记录一次已完成的执行。超出容量时最旧的记录被淘汰。
func (t *Tracker) Register(result *Result) {
	if result == nil || result.ExecutionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.results[result.ExecutionID]; !exists {
		t.order = append(t.order, result.ExecutionID)
	}
	t.results[result.ExecutionID] = result

	for len(t.order) > t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.results, oldest)
	}
}

// Get 返回指定执行的结果。
func (t *Tracker) Get(executionID string) (*Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result, ok := t.results[executionID]
	return result, ok
}

// ByKind 返回指定执行器类型的全部结果,按记录顺序。
func (t *Tracker) ByKind(kind string) []*Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []*Result
	for _, id := range t.order {
		if result := t.results[id]; result != nil && result.Kind == kind {
			matched = append(matched, result)
		}
	}
	return matched
}

// Len 返回当前保留的结果数。
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Metrics 计算当前窗口内的聚合指标。
func (t *Tracker) Metrics() MetricsSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := MetricsSummary{ByKind: make(map[string]int)}
	var totalDuration time.Duration

	for _, id := range t.order {
		result := t.results[id]
		if result == nil {
			continue
		}
		summary.Total++
		summary.ByKind[result.Kind]++
		switch result.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusFailed:
			summary.Failed++
		}

		totalDuration += result.Duration
		if summary.MinDuration == 0 || result.Duration < summary.MinDuration {
			summary.MinDuration = result.Duration
		}
		if result.Duration > summary.MaxDuration {
			summary.MaxDuration = result.Duration
		}
	}

	if summary.Total > 0 {
		summary.AvgDuration = totalDuration / time.Duration(summary.Total)
		summary.SuccessRate = float64(summary.Completed) / float64(summary.Total)
	}
	return summary
}

package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/maximiliancw/homeworq/hq/store"
)

// Analytics endpoints derive dashboard numbers from Logs. They mirror the
// dashboard feeds: a short activity strip, the next few fires, a 30-day
// history chart, the per-task share, and the headline error rate.

const (
	recentActivityLimit  = 3
	upcomingJobsLimit    = 3
	executionHistoryDays = 30
	executionHistoryLogs = 100
	taskDistributionLogs = 1000
)

// historyBucket is one day's worth of execution counts.
type historyBucket struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

// HandleRecentActivity handles GET /api/analytics/recent-activity.
func (s *Server) HandleRecentActivity(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	logs, err := st.ListRecentLogs(recentActivityLimit)
	if err != nil {
		s.handleError(w, err, "Failed to load recent activity")
		return
	}
	if logs == nil {
		logs = []*store.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandleUpcomingExecutions handles GET /api/analytics/upcoming-executions.
func (s *Server) HandleUpcomingExecutions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	jobs, err := st.ListUpcomingJobs(time.Now().UTC(), upcomingJobsLimit)
	if err != nil {
		s.handleError(w, err, "Failed to load upcoming executions")
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleExecutionHistory handles GET /api/analytics/execution-history.
// Logs from the last 30 days are bucketed per UTC calendar date.
func (s *Server) HandleExecutionHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -executionHistoryDays)
	logs, err := st.ListLogsSince(since, executionHistoryLogs)
	if err != nil {
		s.handleError(w, err, "Failed to load execution history")
		return
	}

	buckets := make(map[string]*historyBucket)
	for _, execLog := range logs {
		date := execLog.StartedAt.UTC().Format("2006-01-02")
		bucket, ok := buckets[date]
		if !ok {
			bucket = &historyBucket{Date: date}
			buckets[date] = bucket
		}
		bucket.Total++
		switch execLog.Status {
		case store.StatusCompleted:
			bucket.Completed++
		case store.StatusFailed:
			bucket.Failed++
		}
	}

	history := make([]historyBucket, 0, len(buckets))
	for _, bucket := range buckets {
		history = append(history, *bucket)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Date < history[j].Date })

	writeJSON(w, http.StatusOK, history)
}

// HandleTaskDistribution handles GET /api/analytics/task-distribution.
// Counts cover the most recent 1000 logs; ad-hoc runs carry no job and
// are left out.
func (s *Server) HandleTaskDistribution(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	stats, err := st.TaskDistribution(taskDistributionLogs)
	if err != nil {
		s.handleError(w, err, "Failed to load task distribution")
		return
	}
	if stats == nil {
		stats = []store.TaskStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleErrorRate handles GET /api/analytics/error-rate.
func (s *Server) HandleErrorRate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.store(w)
	if st == nil {
		return
	}

	total, failed, err := st.CountLogs()
	if err != nil {
		s.handleError(w, err, "Failed to compute error rate")
		return
	}

	rate := 0.0
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]float64{"error_rate": rate})
}

// HandleStatus handles GET /api/status with an engine snapshot.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the missions service
var (
	// Counters
	MissionsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missions_completed_total",
			Help: "Total number of missions credited",
		},
		[]string{"mission"},
	)

	RewardsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_claimed_total",
			Help: "Total number of rewards purchased",
		},
		[]string{"reward"},
	)

	RewardPurchasesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_purchases_rejected_total",
			Help: "Reward purchases refused for insufficient points",
		},
		[]string{"reward"},
	)

	ReviewDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_decisions_total",
			Help: "Parent review decisions by resulting status",
		},
		[]string{"status"},
	)

	PinAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pin_attempts_total",
			Help: "PIN submissions by result",
		},
		[]string{"result"},
	)

	ProfileLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_loads_total",
			Help: "Profile hydrations by backend and outcome (hit, seeded, error)",
		},
		[]string{"backend", "status"},
	)

	ProfileWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_writes_total",
			Help: "Profile writes by backend and outcome",
		},
		[]string{"backend", "status"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Parent notifications by outcome",
		},
		[]string{"status"},
	)

	SessionsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_swept_total",
			Help: "Idle sessions removed by the sweeper",
		},
	)

	// Gauges
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Current number of open sessions",
		},
	)
)

// RecordMissionCompleted records a credited mission
func RecordMissionCompleted(mission string) {
	MissionsCompletedTotal.WithLabelValues(mission).Inc()
}

// RecordRewardClaimed records a successful purchase
func RecordRewardClaimed(reward string) {
	RewardsClaimedTotal.WithLabelValues(reward).Inc()
}

// RecordRewardRejected records a purchase refused for insufficient points
func RecordRewardRejected(reward string) {
	RewardPurchasesRejectedTotal.WithLabelValues(reward).Inc()
}

// RecordReviewDecision records a parent decision
func RecordReviewDecision(status string) {
	ReviewDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordPinAttempt records a PIN submission ("success" or "mismatch")
func RecordPinAttempt(result string) {
	PinAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordProfileLoad records a hydration outcome
func RecordProfileLoad(backend, status string) {
	ProfileLoadsTotal.WithLabelValues(backend, status).Inc()
}

// RecordProfileWrite records a write outcome
func RecordProfileWrite(backend, status string) {
	ProfileWritesTotal.WithLabelValues(backend, status).Inc()
}

// RecordNotification records a notification outcome
func RecordNotification(status string) {
	NotificationsSentTotal.WithLabelValues(status).Inc()
}

// RecordSessionsSwept adds to the swept session count
func RecordSessionsSwept(n int) {
	SessionsSweptTotal.Add(float64(n))
}

// SetActiveSessions sets the open session gauge
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

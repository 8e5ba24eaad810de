package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewRateLimitExceededTotal returns a Prometheus counter for the number of rejected HTTP requests due to rate limiting
func NewRateLimitExceededTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_exceeded_total",
		Help: "Total number of rejected HTTP requests due to rate limiting",
	})
}

// Dispatch groups the collectors of the dispatch core. A nil *Dispatch is a
// valid no-op recorder.
type Dispatch struct {
	Sessions        *prometheus.GaugeVec
	LocationUpdates *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	JournalErrors   prometheus.Counter
	JournalRetries  prometheus.Counter
}

// NewDispatch creates the dispatch collectors and registers them on reg when reg is not nil.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	d := &Dispatch{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_sessions",
			Help: "Live sessions by role",
		}, []string{"role"}),
		LocationUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_location_updates_total",
			Help: "Courier position updates by result",
		}, []string{"result"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_deliveries_dropped_total",
			Help: "Outbound messages discarded because a subscriber queue was full",
		}, []string{"type"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Dispatch requests by outcome",
		}, []string{"outcome"}),
		JournalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_errors_total",
			Help: "Assignment journal writes that failed",
		}),
		JournalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journal_retries_total",
			Help: "Assignment journal writes repeated after a transient error",
		}),
	}
	if reg != nil {
		reg.MustRegister(d.Sessions, d.LocationUpdates, d.Dropped, d.Requests, d.JournalErrors, d.JournalRetries)
	}
	return d
}

// SessionOpened increments the live session gauge for role.
func (d *Dispatch) SessionOpened(role string) {
	if d != nil {
		d.Sessions.WithLabelValues(role).Inc()
	}
}

// SessionClosed decrements the live session gauge for role.
func (d *Dispatch) SessionClosed(role string) {
	if d != nil {
		d.Sessions.WithLabelValues(role).Dec()
	}
}

// ObserveLocation counts a position update result.
func (d *Dispatch) ObserveLocation(result string) {
	if d != nil {
		d.LocationUpdates.WithLabelValues(result).Inc()
	}
}

// ObserveDrop counts a discarded outbound message.
func (d *Dispatch) ObserveDrop(msgType string) {
	if d != nil {
		d.Dropped.WithLabelValues(msgType).Inc()
	}
}

// ObserveRequest counts a dispatch request outcome.
func (d *Dispatch) ObserveRequest(outcome string) {
	if d != nil {
		d.Requests.WithLabelValues(outcome).Inc()
	}
}

// ObserveJournalError counts a failed journal write.
func (d *Dispatch) ObserveJournalError() {
	if d != nil {
		d.JournalErrors.Inc()
	}
}

// ObserveJournalRetry counts a repeated journal write.
func (d *Dispatch) ObserveJournalRetry() {
	if d != nil {
		d.JournalRetries.Inc()
	}
}

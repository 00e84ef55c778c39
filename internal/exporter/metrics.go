package exporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chrko/mb-exporter/internal/vehicledata"
)

// Authorization status values published by the mb_oauth_status gauge.
// Unauthenticated is pinned to zero so an absent or freshly reset exporter
// reads as needing authorization.
const (
	StatusUnauthenticated float64 = 0
	StatusDegraded        float64 = 1
	StatusAuthorized      float64 = 2
)

func newStatusGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mb_oauth_status",
		Help: "Authorization status of the exporter; " +
			"0: unauthenticated; " +
			"1: access token refresh failing; " +
			"2: authorized",
	})
}

func newFetchErrorCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mb_container_fetch_errors_total",
		Help: "Container fetches that failed for reasons other than quota exhaustion",
	}, []string{"container"})
}

// resourceSeries holds the gauge families exported per catalog resource:
// the mapped value plus its measurement and update timestamps.
type resourceSeries struct {
	value           *prometheus.GaugeVec
	measurementTime *prometheus.GaugeVec
	updateTime      *prometheus.GaugeVec
	mapper          vehicledata.ValueMapper
}

func newResourceSeries(res vehicledata.Resource) *resourceSeries {
	name := res.MetricName()
	return &resourceSeries{
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: res.Help,
		}, []string{"vin"}),
		measurementTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: res.MetricBase + "_measurement_time_seconds",
			Help: "Measurement time of " + name,
		}, []string{"vin"}),
		updateTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: res.MetricBase + "_update_time_seconds",
			Help: "Update time of " + name,
		}, []string{"vin"}),
		mapper: res.Map,
	}
}

func (s *resourceSeries) register(registry *prometheus.Registry) {
	registry.MustRegister(s.value, s.measurementTime, s.updateTime)
}

// observe publishes a fresh reading.
func (s *resourceSeries) observe(vin string, m vehicledata.Measurement) error {
	value, err := s.mapper(m.Value)
	if err != nil {
		return err
	}
	s.value.WithLabelValues(vin).Set(value)
	s.measurementTime.WithLabelValues(vin).Set(float64(m.Timestamp.UnixMilli()) / 1000)
	s.updateTime.WithLabelValues(vin).SetToCurrentTime()
	return nil
}

// touch records that the vendor answered without a new reading. The value
// and measurement stamps stay put; only the update stamp moves, so data age
// stays observable.
func (s *resourceSeries) touch(vin string) {
	s.updateTime.WithLabelValues(vin).SetToCurrentTime()
}

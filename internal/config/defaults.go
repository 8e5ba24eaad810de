package config

import "time"

const defaultPort = 8080

const defaultSecret = "dev-secret"

var defaultDispatch = Dispatch{
	LivenessWindow: 30 * time.Second,
	SessionTimeout: 2 * time.Minute,
	QueueSize:      64,
	HistorySize:    20,
	SweepSchedule:  "@every 10s",
	ClosedOrderTTL: time.Hour,
	HelloTimeout:   10 * time.Second,
}

var defaultDB = DB{
	Host: "127.0.0.1",
	Port: "5432",
	User: "myuser",
	Pass: "mypassword",
	Name: "test_db",
}

var defaultKafka = Kafka{
	Topic:   "orders",
	GroupID: "service-dispatch",
}

var defaultRateLimit = RateLimit{
	Enabled:    false,
	Rate:       5,
	Burst:      10,
	TTL:        5 * time.Minute,
	MaxBuckets: 10000,
}

// DefaultPort returns the default port.
func DefaultPort() int {
	return defaultPort
}

// DefaultDispatch returns the default dispatch core settings.
func DefaultDispatch() Dispatch {
	return defaultDispatch
}

// DefaultDB returns the default database settings.
func DefaultDB() DB {
	return defaultDB
}

// DefaultKafka returns the default consumer settings. Brokers are empty, so
// the consumer stays off until KAFKA_BROKERS is set.
func DefaultKafka() Kafka {
	return defaultKafka
}

// DefaultRateLimit returns the default rate limit settings.
func DefaultRateLimit() RateLimit {
	return defaultRateLimit
}

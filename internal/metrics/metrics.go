package metrics

import "time"

type MetricType int

const (
	MetricTypeDispatchSent MetricType = iota
	MetricTypeDispatchFailed
)

func (t MetricType) String() string {
	switch t {
	case MetricTypeDispatchSent:
		return "dispatch_sent"
	case MetricTypeDispatchFailed:
		return "dispatch_failed"
	}
	return "unknown"
}

// Typed is anything that can be wrapped in a Metric
type Typed interface {
	Type() MetricType
}

// wrap our metric for transport
type Metric struct {
	T MetricType `json:"type"`
	M []byte     `json:"data"`
}

// when a dispatch is accepted by the API for every recipient
type DispatchSent struct {
	Time       time.Time
	LogID      int64
	FromEmail  string
	Recipients int
	Source     string
	MessageIDs []string
}

func (d DispatchSent) Type() MetricType { return MetricTypeDispatchSent }

func NewDispatchSent(logID int64, from, source string, recipients int, messageIDs []string) *DispatchSent {
	return &DispatchSent{
		Time:       time.Now(),
		LogID:      logID,
		FromEmail:  from,
		Recipients: recipients,
		Source:     source,
		MessageIDs: messageIDs,
	}
}

// when a dispatch fails at any step
type DispatchFailed struct {
	Time       time.Time
	LogID      int64
	FromEmail  string
	Recipients int
	Source     string
	Reason     string
}

func (d DispatchFailed) Type() MetricType { return MetricTypeDispatchFailed }

func NewDispatchFailed(logID int64, from, source, reason string, recipients int) *DispatchFailed {
	return &DispatchFailed{
		Time:       time.Now(),
		LogID:      logID,
		FromEmail:  from,
		Recipients: recipients,
		Source:     source,
		Reason:     reason,
	}
}

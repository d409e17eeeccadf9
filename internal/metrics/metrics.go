// Package metrics builds the tally scope the node reports into and a
// reporter that writes the values to the log.
package metrics

import (
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
)

const Prefix = "lanchat"

// NewScope returns a root scope that reports through log every interval.
// A zero interval disables periodic reporting.
func NewScope(log *logrus.Logger, interval time.Duration) (tally.Scope, io.Closer) {
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:   Prefix,
		Reporter: NewLogReporter(log),
	}, interval)
}

type capabilities struct{}

func (capabilities) Reporting() bool { return true }
func (capabilities) Tagging() bool   { return true }

// LogReporter is a tally.StatsReporter that emits one debug line per value.
type LogReporter struct {
	log *logrus.Logger
}

var _ tally.StatsReporter = (*LogReporter)(nil)

func NewLogReporter(log *logrus.Logger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Capabilities() tally.Capabilities {
	return capabilities{}
}

func (r *LogReporter) Flush() {}

func (r *LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	r.entry("counter", name, tags).WithField("value", value).Debug("Metric")
}

func (r *LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.entry("gauge", name, tags).WithField("value", value).Debug("Metric")
}

func (r *LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.entry("timer", name, tags).WithField("value", interval).Debug("Metric")
}

func (r *LogReporter) ReportHistogramValueSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound, bucketUpperBound float64,
	samples int64,
) {
	r.entry("histogram", name, tags).WithFields(logrus.Fields{
		"lower":   bucketLowerBound,
		"upper":   bucketUpperBound,
		"samples": samples,
	}).Debug("Metric")
}

func (r *LogReporter) ReportHistogramDurationSamples(
	name string,
	tags map[string]string,
	_ tally.Buckets,
	bucketLowerBound, bucketUpperBound time.Duration,
	samples int64,
) {
	r.entry("histogram", name, tags).WithFields(logrus.Fields{
		"lower":   bucketLowerBound,
		"upper":   bucketUpperBound,
		"samples": samples,
	}).Debug("Metric")
}

func (r *LogReporter) entry(kind, name string, tags map[string]string) *logrus.Entry {
	fields := logrus.Fields{"metric": name, "kind": kind}
	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields["tag_"+k] = tags[k]
		}
	}
	return r.log.WithFields(fields)
}

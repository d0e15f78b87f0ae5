package ingest

import (
	"errors"
	"fmt"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/stream"
	"github.com/sirupsen/logrus"
)

// Sink stores accepted points.
type Sink interface {
	Record(p stream.MetricPoint) error
}

// Observer is told about every point offered to the recorder.
type Observer interface {
	RecordPoint(source string, err error)
}

// Recorder is the single entry point for metric points, whatever their source.
type Recorder struct {
	sink     Sink
	observer Observer
	logger   *logrus.Logger
}

// NewRecorder creates a recorder over sink. observer may be nil.
func NewRecorder(sink Sink, observer Observer, logger *logrus.Logger) *Recorder {
	return &Recorder{sink: sink, observer: observer, logger: logger}
}

// Record stores one point tagged with its source.
func (r *Recorder) Record(source string, p stream.MetricPoint) error {
	err := r.sink.Record(p)
	if r.observer != nil {
		r.observer.RecordPoint(source, err)
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"source": source,
			"series": p.SeriesKey(),
			"error":  err,
		}).Warn("Rejected metric point")
	}
	return err
}

// RecordBatch stores every point it can and reports how many were accepted.
// Rejected points do not stop the batch.
func (r *Recorder) RecordBatch(source string, points []stream.MetricPoint) (int, error) {
	accepted := 0
	var errs []error
	for i, p := range points {
		if err := r.Record(source, p); err != nil {
			errs = append(errs, fmt.Errorf("point %d (%s): %w", i, p.SeriesKey(), err))
			continue
		}
		accepted++
	}
	if len(errs) > 0 {
		r.logger.WithFields(logrus.Fields{
			"source":   source,
			"accepted": accepted,
			"rejected": len(errs),
		}).Warn("Batch partially rejected")
	}
	return accepted, errors.Join(errs...)
}

// RecordReport decodes a device report and records its points.
func (r *Recorder) RecordReport(decoder *Decoder, report *DeviceReport) (int, error) {
	points, err := decoder.Points(report)
	if err != nil {
		return 0, err
	}
	return r.RecordBatch("report", points)
}

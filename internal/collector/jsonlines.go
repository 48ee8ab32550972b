package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/heatnet-simulator/core"
)

// JSONLinesSink writes one JSON object per step.
type JSONLinesSink struct {
	mu        sync.Mutex
	w         *bufio.Writer
	closer    io.Closer
	runID     string
	precision int32
	marshal   protojson.MarshalOptions
}

// NewJSONLinesSink writes to w. If w is an io.Closer it is closed by Close.
func NewJSONLinesSink(w io.Writer, runID string, precision int32) *JSONLinesSink {
	s := &JSONLinesSink{
		w:         bufio.NewWriter(w),
		runID:     runID,
		precision: precision,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateJSONLinesFile truncates or creates path and returns a sink on it.
func CreateJSONLinesFile(path, runID string, precision int32) (*JSONLinesSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}
	return NewJSONLinesSink(f, runID, precision), nil
}

func (s *JSONLinesSink) Write(_ context.Context, out *core.StepOutputs) error {
	rec, err := Record(out, s.runID, s.precision)
	if err != nil {
		return fmt.Errorf("collector: build record: %w", err)
	}
	b, err := s.marshal.Marshal(rec)
	if err != nil {
		return fmt.Errorf("collector: encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

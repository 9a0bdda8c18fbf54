package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flockd-io/flockd/internal/logging"
	"github.com/flockd-io/flockd/internal/metrics"
	"github.com/flockd-io/flockd/internal/objectstore"
)

// Segment layout:
//
//	magic "FLKS" | version u8 | compression u8 | reserved u16 |
//	frame count u32 | raw length u32 | payload
//
// The payload is the concatenated frames, compressed as a whole.
const (
	segmentMagic      = "FLKS"
	segmentVersion    = 1
	segmentHeaderSize = 16
	segmentSuffix     = ".seg"

	// DefaultSegmentTicks is the number of frames per segment.
	DefaultSegmentTicks = 10
)

// EncodeSegment packs frames into one segment.
func EncodeSegment(frames []Frame, c Compression) ([]byte, error) {
	var raw []byte
	for _, f := range frames {
		raw = appendFrame(raw, f)
	}
	payload, err := Compress(c, raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, segmentHeaderSize+len(payload))
	out = append(out, segmentMagic...)
	out = append(out, segmentVersion, byte(c), 0, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(len(frames)))
	out = binary.BigEndian.AppendUint32(out, uint32(len(raw)))
	return append(out, payload...), nil
}

// DecodeSegment unpacks a segment written by EncodeSegment.
func DecodeSegment(data []byte) ([]Frame, error) {
	if len(data) < segmentHeaderSize || string(data[:4]) != segmentMagic {
		return nil, fmt.Errorf("%w: not a segment", ErrCorrupt)
	}
	if data[4] != segmentVersion {
		return nil, fmt.Errorf("%w: segment version %d", ErrCorrupt, data[4])
	}
	c := Compression(data[5])
	count := int(binary.BigEndian.Uint32(data[8:]))
	rawLen := int(binary.BigEndian.Uint32(data[12:]))

	raw, err := Decompress(c, data[segmentHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != rawLen {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(raw), rawLen)
	}
	frames := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		var f Frame
		f, raw, err = DecodeFrame(raw)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// SegmentsPrefix is the key prefix under which a run's segments live.
func SegmentsPrefix(prefix, runID string) string {
	return objectstore.Join(prefix, "runs", runID, "segments") + "/"
}

// SegmentKey names the segment starting at firstTick. The tick is zero
// padded so keys list in tick order.
func SegmentKey(prefix, runID string, firstTick uint64) string {
	return SegmentsPrefix(prefix, runID) + fmt.Sprintf("%020d-%s%s", firstTick, uuid.NewString(), segmentSuffix)
}

// ListSegments returns a run's segment keys in tick order.
func ListSegments(ctx context.Context, store objectstore.Store, prefix, runID string) ([]string, error) {
	objs, err := store.List(ctx, SegmentsPrefix(prefix, runID))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		if strings.HasSuffix(o.Key, segmentSuffix) {
			keys = append(keys, o.Key)
		}
	}
	return keys, nil
}

// LoadSegment reads and decodes one segment.
func LoadSegment(ctx context.Context, store objectstore.Store, key string) ([]Frame, error) {
	data, err := objectstore.ReadAll(ctx, store, key)
	if err != nil {
		return nil, err
	}
	frames, err := DecodeSegment(data)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", key, err)
	}
	return frames, nil
}

// SegmentConfig configures a SegmentSink.
type SegmentConfig struct {
	Store       objectstore.Store
	Prefix      string
	RunID       string
	Ticks       int
	Compression Compression
	Metrics     *metrics.CaptureMetrics
	Logger      *logging.Logger
}

// SegmentSink batches frames into compressed segments in object storage.
type SegmentSink struct {
	cfg     SegmentConfig
	pending []Frame
	keys    []string
}

// NewSegmentSink creates a sink that uploads every cfg.Ticks frames.
func NewSegmentSink(cfg SegmentConfig) *SegmentSink {
	if cfg.Ticks <= 0 {
		cfg.Ticks = DefaultSegmentTicks
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &SegmentSink{cfg: cfg}
}

func (s *SegmentSink) Name() string { return metrics.SinkObjectStore }

func (s *SegmentSink) WriteFrame(ctx context.Context, f Frame) error {
	s.pending = append(s.pending, f)
	if len(s.pending) < s.cfg.Ticks {
		return nil
	}
	return s.flush(ctx)
}

// Close uploads any frames still pending.
func (s *SegmentSink) Close(ctx context.Context) error {
	return s.flush(ctx)
}

// Keys returns the keys uploaded so far.
func (s *SegmentSink) Keys() []string {
	return append([]string(nil), s.keys...)
}

func (s *SegmentSink) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	frames := s.pending
	s.pending = nil

	records := 0
	for _, f := range frames {
		records += len(f.Records)
	}

	start := time.Now()
	data, err := EncodeSegment(frames, s.cfg.Compression)
	if err != nil {
		return err
	}
	key := SegmentKey(s.cfg.Prefix, s.cfg.RunID, frames[0].Tick)
	err = objectstore.PutBytes(ctx, s.cfg.Store, key, data, "application/octet-stream")
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSink(metrics.SinkObjectStore, records, err == nil)
		if err == nil {
			s.cfg.Metrics.RecordFlush(len(data), time.Since(start).Seconds())
		}
	}
	if err != nil {
		return fmt.Errorf("capture: upload segment: %w", err)
	}
	s.keys = append(s.keys, key)
	s.cfg.Logger.Debugf("segment uploaded", map[string]any{
		"key":     key,
		"frames":  len(frames),
		"records": records,
		"bytes":   len(data),
	})
	return nil
}

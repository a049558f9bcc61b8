package plant

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/copyleftdev/setpoint/internal/errors"
)

// Snapshot is one validated telemetry reading. It is not modified after
// ingestion.
type Snapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	Controls    ControlVector      `json:"-"`
	Constraints ConstraintVector   `json:"-"`
	Derived     map[string]float64 `json:"derived,omitempty"`
}

// Derive returns a derived value and whether the snapshot carried it.
func (s Snapshot) Derive(key string) (float64, bool) {
	v, ok := s.Derived[key]
	return v, ok
}

// DecodeSnapshot parses a nested telemetry document. Every control and
// constraint must be present and finite; derived KPIs are optional. When
// the document has no timestamp, received is used.
func DecodeSnapshot(data []byte, received time.Time) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Snapshot{}, apperrors.New(apperrors.KindInvalidRequest, "snapshot is not valid JSON")
	}
	return decode(gjson.ParseBytes(data), received)
}

// DecodeSnapshots accepts either a single snapshot object or an array of them.
func DecodeSnapshots(data []byte, received time.Time) ([]Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "snapshot payload is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		s, err := decode(root, received)
		if err != nil {
			return nil, err
		}
		return []Snapshot{s}, nil
	}

	items := root.Array()
	out := make([]Snapshot, 0, len(items))
	for i, item := range items {
		s, err := decode(item, received)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInvalidRequest, "snapshot").
				WithOperation("decode item " + strconv.Itoa(i))
		}
		out = append(out, s)
	}
	return out, nil
}

func decode(doc gjson.Result, received time.Time) (Snapshot, error) {
	if !doc.IsObject() {
		return Snapshot{}, apperrors.New(apperrors.KindInvalidRequest, "snapshot must be a JSON object")
	}

	var s Snapshot
	for i, v := range controls {
		x, err := number(doc, v.Path)
		if err != nil {
			return Snapshot{}, err
		}
		s.Controls[i] = x
	}
	for i, v := range constraints {
		x, err := number(doc, v.Path)
		if err != nil {
			return Snapshot{}, err
		}
		s.Constraints[i] = x
	}

	for key, path := range derived {
		r := doc.Get(path)
		if r.Type != gjson.Number {
			continue
		}
		if x := r.Float(); !math.IsNaN(x) && !math.IsInf(x, 0) {
			if s.Derived == nil {
				s.Derived = make(map[string]float64, len(derived))
			}
			s.Derived[key] = x
		}
	}

	ts := doc.Get("timestamp")
	switch ts.Type {
	case gjson.Number:
		sec, frac := math.Modf(ts.Float())
		s.Timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, ts.Str)
		if err != nil {
			return Snapshot{}, apperrors.Errorf(apperrors.KindInvalidRequest, "timestamp %q: %v", ts.Str, err)
		}
		s.Timestamp = t.UTC()
	default:
		s.Timestamp = received.UTC()
	}
	return s, nil
}

func number(doc gjson.Result, path string) (float64, error) {
	r := doc.Get(path)
	if !r.Exists() {
		return 0, apperrors.Errorf(apperrors.KindInvalidRequest, "missing %s", path)
	}
	if r.Type != gjson.Number {
		return 0, apperrors.Errorf(apperrors.KindInvalidRequest, "%s must be a number, got %s", path, r.Type)
	}
	x := r.Float()
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, apperrors.Errorf(apperrors.KindInvalidRequest, "%s is not finite", path)
	}
	return x, nil
}

// Document renders the snapshot back into the nested telemetry shape it was
// decoded from.
func (s Snapshot) Document() map[string]interface{} {
	doc := map[string]interface{}{"timestamp": s.Timestamp.Unix()}
	for i, v := range controls {
		setPath(doc, v.Path, s.Controls[i])
	}
	for i, v := range constraints {
		setPath(doc, v.Path, s.Constraints[i])
	}
	for key, x := range s.Derived {
		if path, ok := derived[key]; ok {
			setPath(doc, path, x)
		}
	}
	return doc
}

func setPath(doc map[string]interface{}, path string, v float64) {
	parts := strings.Split(path, ".")
	node := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = v
}

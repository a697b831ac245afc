package influx

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Point is one measurement waiting for delivery. It is not modified after
// it has been enqueued.
type Point struct {
	Field     string
	Values    map[string]any
	Timestamp time.Time
}

// Line renders the point in line protocol:
//
//	<field>,<tags> <key1>=<value1>,<key2>=<value2> <timestamp_ns>
//
// tags is inserted verbatim. Value keys are written in sorted order.
func (p Point) Line(tags string) string {
	var b strings.Builder
	b.WriteString(p.Field)
	if tags != "" {
		b.WriteByte(',')
		b.WriteString(tags)
	}
	b.WriteByte(' ')

	keys := lo.Keys(p.Values)
	slices.Sort(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(p.Values[k]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Timestamp.UnixNano(), 10))
	return b.String()
}

// formatValue uses the plain decimal form for numbers, so integral values
// carry no type suffix and are stored as floats by the backend.
func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprint(x)
	}
}

// formatFloat writes plain decimals for magnitudes in [1e-4, 1e16) and
// exponent form outside it, so very large or small values stay short.
func formatFloat(x float64, bitSize int) string {
	if abs := math.Abs(x); x != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(x, 'e', -1, bitSize)
	}
	return strconv.FormatFloat(x, 'f', -1, bitSize)
}

package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// structuralKey is the stable, order-sensitive, type-tagged linearization
// spec §3 requires for the Coalescer's InFlightKey: "not a JSON encoding;
// equal structural keys imply semantically equal inputs for pure
// callables." Each value is written as a one-byte type tag followed by its
// encoding, so a string "1" and an int 1 never collide, and map keys are
// sorted so iteration order never perturbs the result.
func structuralKey(v any) string {
	var b strings.Builder
	writeStructural(&b, v)
	return b.String()
}

func writeStructural(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n:")
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(x))
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte(':')
		b.WriteString(x)
	case int:
		writeInt(b, int64(x))
	case int32:
		writeInt(b, int64(x))
	case int64:
		writeInt(b, x)
	case float32:
		writeFloat(b, float64(x))
	case float64:
		writeFloat(b, x)
	case []any:
		b.WriteString("a:")
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte('[')
		for _, e := range x {
			writeStructural(b, e)
			b.WriteByte(',')
		}
		b.WriteByte(']')
	case map[string]any:
		b.WriteString("m:")
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(strconv.Itoa(len(keys)))
		b.WriteByte('{')
		for _, k := range keys {
			b.WriteString(strconv.Itoa(len(k)))
			b.WriteByte(':')
			b.WriteString(k)
			b.WriteByte('=')
			writeStructural(b, x[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	default:
		// Anything outside the value shapes the Worker Protocol carries
		// (spec §6's Request Message args/context) falls back to a
		// type-qualified %#v rendering — still order-sensitive and
		// type-tagged, just not specialized for speed.
		b.WriteString("x:")
		b.WriteString(fmt.Sprintf("%T:%#v", x, x))
	}
}

func writeInt(b *strings.Builder, i int64) {
	b.WriteString("i:")
	b.WriteString(strconv.FormatInt(i, 10))
}

func writeFloat(b *strings.Builder, f float64) {
	b.WriteString("f:")
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// structuralKeyOfArgs and structuralKeyOfEnv wrap structuralKey for the
// exact shapes TaskDescriptor carries, matching §3's "args" and "env"
// separately before the Coalescer joins them with the fingerprint.
func structuralKeyOfArgs(args []any) string {
	return structuralKey(any(args))
}

func structuralKeyOfEnv(env map[string]any) string {
	return structuralKey(any(env))
}

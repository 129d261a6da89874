package apply

import (
	"strings"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
)

var escaper = strings.NewReplacer("\n", `\n`, "u00b7", "•")

// Escape prepares a value for Box: newlines become a literal backslash-n
// and the mojibake sequence "u00b7" becomes a bullet. Non-strings pass
// through.
func Escape(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return escaper.Replace(s)
}

// EscapeAll returns a copy of attrs with every value escaped.
func EscapeAll(attrs enrichment.AttributeMap) enrichment.AttributeMap {
	out := make(enrichment.AttributeMap, len(attrs))
	for i, a := range attrs {
		out[i] = enrichment.Attribute{Key: a.Key, Value: Escape(a.Value)}
	}
	return out
}

// BuildPatch returns the JSON-patch operations that bring an instance to
// attrs, field by field in attrs order.
//
// With a known instance, a value for a stored key is guarded by a test of
// the stored value before the replace, a value for a missing or null key is
// an add, and a nil value removes the key only when it is stored. With a nil
// instance every value is a test and replace of the new value, and every
// nil is a remove.
func BuildPatch(attrs enrichment.AttributeMap, inst Instance) []box.PatchOp {
	var ops []box.PatchOp
	for _, a := range attrs {
		path := "/" + a.Key
		value := Escape(a.Value)

		if inst == nil {
			if value == nil {
				ops = append(ops, box.PatchOp{Op: box.OpRemove, Path: path})
				continue
			}
			ops = append(ops,
				box.PatchOp{Op: box.OpTest, Path: path, Value: value},
				box.PatchOp{Op: box.OpReplace, Path: path, Value: value},
			)
			continue
		}

		current, stored := inst[a.Key]
		switch {
		case value == nil && stored:
			ops = append(ops, box.PatchOp{Op: box.OpRemove, Path: path})
		case value == nil:
		case !stored || current == nil:
			ops = append(ops, box.PatchOp{Op: box.OpAdd, Path: path, Value: value})
		default:
			ops = append(ops,
				box.PatchOp{Op: box.OpTest, Path: path, Value: current},
				box.PatchOp{Op: box.OpReplace, Path: path, Value: value},
			)
		}
	}
	return ops
}

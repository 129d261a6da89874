package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"plain", "plain"},
		{"a\nb", `a\nb`},
		{"u00b7 bullet", "• bullet"},
		{42.0, 42.0},
		{nil, nil},
		{true, true},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestBuildPatch_UnknownInstance(t *testing.T) {
	ops := BuildPatch(enrichment.AttributeMap{
		{Key: "invoiceNumber", Value: "INV-1\n"},
		{Key: "total", Value: nil},
	}, nil)

	assert.Equal(t, []box.PatchOp{
		{Op: box.OpTest, Path: "/invoiceNumber", Value: `INV-1\n`},
		{Op: box.OpReplace, Path: "/invoiceNumber", Value: `INV-1\n`},
		{Op: box.OpRemove, Path: "/total"},
	}, ops)
}

func TestBuildPatch_KnownInstance(t *testing.T) {
	inst := Instance{"invoiceNumber": "OLD", "total": "1", "vendor": nil}
	ops := BuildPatch(enrichment.AttributeMap{
		{Key: "invoiceNumber", Value: "NEW"},
		{Key: "total", Value: nil},
		{Key: "currency", Value: "EUR"},
		{Key: "dueDate", Value: nil},
		{Key: "vendor", Value: "ACME"},
	}, inst)

	assert.Equal(t, []box.PatchOp{
		{Op: box.OpTest, Path: "/invoiceNumber", Value: "OLD"},
		{Op: box.OpReplace, Path: "/invoiceNumber", Value: "NEW"},
		{Op: box.OpRemove, Path: "/total"},
		{Op: box.OpAdd, Path: "/currency", Value: "EUR"},
		{Op: box.OpAdd, Path: "/vendor", Value: "ACME"},
	}, ops)
}

func TestBuildPatch_Empty(t *testing.T) {
	assert.Empty(t, BuildPatch(enrichment.AttributeMap{{Key: "total", Value: nil}}, Instance{}))
}

func TestNewInstance_StripsSystemKeys(t *testing.T) {
	inst := newInstance(map[string]any{"$id": "1", "$parent": "file_42", "total": "5"})
	assert.Equal(t, Instance{"total": "5"}, inst)
}

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/form-filler/internal/template"
)

func field(typ template.FieldType, vtype string) template.Field {
	return template.Field{ID: "f", Type: typ, Validate: template.Validation{Type: vtype}}
}

func TestValue(t *testing.T) {
	tests := []struct {
		name  string
		field template.Field
		in    string
		want  string
	}{
		{"empty", field(template.TypeTextLine, ""), "", ""},
		{"whitespace only date", field(template.TypeDate, ""), "   \t", ""},
		{"text collapses whitespace", field(template.TypeTextLine, ""), "  Ram   Bahadur \n Thapa ", "Ram Bahadur Thapa"},
		{"text translates digits", field(template.TypeTextLine, ""), "वडा नं. ५", "वडा नं. 5"},
		{"unknown type is text", field("signature", ""), "a  b", "a b"},

		{"date ymd dots", field(template.TypeDate, ""), "2024.1.5", "2024-01-05"},
		{"date dmy slashes", field(template.TypeTextDate, ""), "05/01/2024", "2024-01-05"},
		{"date devanagari", field(template.TypeDate, ""), "२०८०-०१-१५", "2080-01-15"},
		{"date spaces removed", field(template.TypeDate, ""), "2024 - 02 - 03", "2024-02-03"},
		{"date via validate override", field(template.TypeTextLine, "date"), "1/2/2020", "2020-02-01"},
		{"date unparseable", field(template.TypeDate, ""), "  next tuesday ", "next tuesday"},
		{"date two parts", field(template.TypeDate, ""), "2024-05", "2024-05"},
		{"date non numeric part", field(template.TypeDate, ""), "2024-May-05", "2024-May-05"},

		{"phone plain", field(template.TypePhone, ""), "9812345678", "9812345678"},
		{"phone formatted", field(template.TypePhone, ""), "981-234-5678", "9812345678"},
		{"phone country code", field(template.TypePhone, ""), "+977 9812345678", "9812345678"},
		{"phone devanagari", field(template.TypePhone, ""), "९८१२३४५६७८", "9812345678"},
		{"phone landline unchanged", field(template.TypePhone, ""), "01-4412345", "01-4412345"},
		{"phone wrong second digit", field(template.TypePhone, ""), "9612345678", "9612345678"},
		{"phone too short", field(template.TypePhone, ""), "981234567", "981234567"},
		{"phone via validate override", field(template.TypeTextLine, "phone"), "97 98 123 456", "9798123456"},

		{"email lowercased", field(template.TypeEmail, ""), "  Ram@Example.COM ", "ram@example.com"},
		{"email missing dot unchanged", field(template.TypeEmail, ""), "ram@example", "ram@example"},
		{"email empty local unchanged", field(template.TypeEmail, ""), "@example.com", "@example.com"},
		{"email short domain unchanged", field(template.TypeEmail, ""), "a@.c", "a@.c"},
		{"email type substring", field("contact_email", ""), "X@Y.ORG", "x@y.org"},

		{"number strips spaces", field(template.TypeNumber, ""), "12 34 5", "12345"},
		{"grid devanagari", field(template.TypeBoxGrid, ""), "१ २ ३", "123"},
		{"number via validate override", field(template.TypeTextLine, "number"), "4 4", "44"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.field, tt.in))
		})
	}
}

func TestValue_Idempotent(t *testing.T) {
	inputs := []string{
		"", "  ", "2024.1.5", "5/1/24", "12345-1-1", "+977-981-234-5678", "01-4412345",
		"Ram@Example.com", "not an email", "१२ ३४", "  many   spaces  here ", "२०८०/१/१",
	}
	types := []template.FieldType{
		template.TypeTextLine, template.TypeDate, template.TypeTextDate, template.TypePhone,
		template.TypeEmail, template.TypeNumber, template.TypeBoxGrid, "other",
	}
	for _, typ := range types {
		for _, in := range inputs {
			f := field(typ, "")
			once := Value(f, in)
			assert.Equal(t, once, Value(f, once), "type=%s input=%q", typ, in)
		}
	}
}

func TestValue_NoDevanagariDigitsSurvive(t *testing.T) {
	for _, typ := range []template.FieldType{template.TypeTextLine, template.TypeDate, template.TypePhone, template.TypeNumber} {
		out := Value(field(typ, ""), "०१२३४५६७८९")
		assert.NotContains(t, out, "५", "type=%s", typ)
	}
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "0123456789", Digits("०१२३४५६७८९"))
	assert.Equal(t, "abc", Digits("abc"))
}

func TestPhone_Boundary(t *testing.T) {
	assert.Equal(t, "9812345678", Phone("009779812345678"))
	assert.Equal(t, "9712345678", Phone("12349712345678"))
	assert.Equal(t, "98123", Phone("98123"))
}

package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/form-filler/internal/template"
)

func writeBackground(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 240, G: 240, B: 230, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, "bg.png")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func sampleFields() []Field {
	return []Field{
		{ID: "name", Name: "Name", Value: "hello", Confidence: 0.9, BBox: []float64{10, 50, 60, 20}, Page: 1, Style: template.Style{Uppercase: true}, Type: template.TypeTextLine},
		{ID: "ward", Value: "12a3456", BBox: []float64{0, 100, 50, 20}, Page: 1, Type: template.TypeBoxGrid, GridBoxes: 5},
		{ID: "broken", Value: "skip me", BBox: []float64{1, 2, 3}},
		{ID: "blank", Value: "  ", BBox: []float64{0, 0, 10, 10}},
	}
}

var smallRef = RenderOptions{ReferenceWidth: 100, ReferenceHeight: 200}

func TestRender_Layout(t *testing.T) {
	dir := t.TempDir()
	bg := writeBackground(t, dir, 100, 200)
	out := filepath.Join(dir, "out", "form.pdf")

	res, err := NewRenderer("", nil).Render(context.Background(), bg, sampleFields(), out, smallRef)
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.Len(t, res.SHA256, 64)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	body := string(b)

	assert.Contains(t, body, "15.00 136.50 Td (HELLO) Tj")
	assert.Contains(t, body, "2.50 86.50 Td (1) Tj")
	assert.Contains(t, body, "42.50 86.50 Td (5) Tj")
	assert.NotContains(t, body, "(6) Tj")
	assert.NotContains(t, body, "skip me")
}

func TestRender_ScalesCoordinates(t *testing.T) {
	dir := t.TempDir()
	bg := writeBackground(t, dir, 200, 400)
	out := filepath.Join(dir, "form.pdf")

	_, err := NewRenderer("", nil).Render(context.Background(), bg, sampleFields()[:1], out, smallRef)
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	// bbox [10 50 60 20] at 2x: x=20 y=100 h=40, font 28
	assert.Contains(t, string(b), "25.00 273.00 Td (HELLO) Tj")
}

func TestRender_Deterministic(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	bgA := writeBackground(t, a, 100, 200)
	bgB := writeBackground(t, b, 100, 200)
	r := NewRenderer("", nil)

	resA, err := r.Render(context.Background(), bgA, sampleFields(), filepath.Join(a, "form.pdf"), smallRef)
	require.NoError(t, err)
	resB, err := r.Render(context.Background(), bgB, sampleFields(), filepath.Join(b, "form.pdf"), smallRef)
	require.NoError(t, err)

	assert.Equal(t, resA.DocumentID, resB.DocumentID)
	assert.Equal(t, resA.SHA256, resB.SHA256)

	bytesA, _ := os.ReadFile(resA.Path)
	bytesB, _ := os.ReadFile(resB.Path)
	assert.Equal(t, bytesA, bytesB)

	// a different output name is a different document
	resC, err := r.Render(context.Background(), bgA, sampleFields(), filepath.Join(a, "other.pdf"), smallRef)
	require.NoError(t, err)
	assert.NotEqual(t, resA.DocumentID, resC.DocumentID)
}

func TestRender_MetadataAndInspect(t *testing.T) {
	dir := t.TempDir()
	bg := writeBackground(t, dir, 100, 200)
	out := filepath.Join(dir, "form.pdf")
	const id = "3b241101-e2bb-4255-8caf-4136c566a962"

	res, err := NewRenderer(t.TempDir(), nil).Render(context.Background(), bg, sampleFields(), out, RenderOptions{DocumentID: id, ReferenceWidth: 100, ReferenceHeight: 200})
	require.NoError(t, err)
	assert.Equal(t, id, res.DocumentID)

	info, err := Inspect(out)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Pages)
	assert.Equal(t, DocumentTitle, info.Title)
	assert.Equal(t, DocumentAuthor, info.Author)
	assert.Equal(t, "Verified Document "+id, info.Subject)
	assert.Equal(t, "document_id:"+id, info.Keywords)
	assert.Equal(t, id, info.DocumentID)
	assert.Equal(t, FixedPDFDate, info.CreationDate)
	assert.Equal(t, FixedPDFDate, info.ModDate)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "/CreationDate ("+FixedPDFDate+")")
	assert.Contains(t, string(raw), "/ModDate ("+FixedPDFDate+")")
	assert.Contains(t, info.Text, "HELLO")
}

func TestRender_Errors(t *testing.T) {
	dir := t.TempDir()
	bg := writeBackground(t, dir, 10, 10)
	r := NewRenderer("", nil)

	_, err := r.Render(context.Background(), bg, nil, filepath.Join(dir, "x.pdf"), RenderOptions{})
	assert.ErrorIs(t, err, ErrNoFields)
	assert.NoFileExists(t, filepath.Join(dir, "x.pdf"))

	_, err = r.Render(context.Background(), filepath.Join(dir, "missing.png"), sampleFields(), filepath.Join(dir, "y.pdf"), RenderOptions{})
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("not an image"), 0o644))
	_, err = r.Render(context.Background(), junk, sampleFields(), filepath.Join(dir, "z.pdf"), RenderOptions{})
	assert.Error(t, err)
}

func TestScrub(t *testing.T) {
	in := []byte("a D:20240305112233+05'30' b D:20240305112233 c D:20240305112233Z d D:2024")
	assert.Equal(t, "a "+FixedPDFDate+" b "+FixedPDFDate+" c "+FixedPDFDate+" d D:2024", string(Scrub(in)))

	already := []byte("(" + FixedPDFDate + ")")
	assert.Equal(t, already, Scrub(already))
}

// minimalPDF lays out objects and an xref table the way fpdf writes them.
func minimalPDF(date string) []byte {
	var b strings.Builder
	var offsets []int
	b.WriteString("%PDF-1.3\n")
	for _, body := range []string{
		"<< /Type /Catalog /Pages 3 0 R >>",
		"<< /CreationDate (" + date + ") >>",
		"<< /Type /Pages /Kids [] /Count 0 >>",
	} {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, o := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", o)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R /Info 2 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return []byte(b.String())
}

func TestScrub_ShiftsXref(t *testing.T) {
	got := Scrub(minimalPDF("D:20240305112233"))
	assert.Equal(t, string(minimalPDF(FixedPDFDate)), string(got))

	// unchanged length leaves the table alone
	same := minimalPDF("D:20240305112233+05'30'")
	assert.Equal(t, string(minimalPDF(FixedPDFDate)), string(Scrub(same)))
}

func TestFontSizeAndBaseline(t *testing.T) {
	for h, want := range map[int]int{0: 14, 10: 14, 20: 14, 21: 14, 40: 28, 68: 47, 70: 48, 300: 48} {
		assert.Equal(t, want, FontSize(h), "h=%d", h)
	}
	assert.InDelta(t, 63.5, Baseline(50, 20, 14), 1e-9)
	assert.InDelta(t, 127.0, Baseline(100, 40, 28), 1e-9)
}

func TestGridDigitsAndScript(t *testing.T) {
	assert.Equal(t, []rune("123"), GridDigits("1-2 3", 5))
	assert.Equal(t, []rune("12"), GridDigits("12345", 2))
	assert.Empty(t, GridDigits("abc", 5))

	assert.True(t, HasDevanagari("राम"))
	assert.False(t, HasDevanagari("Ram 123"))
}

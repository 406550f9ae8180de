// Package render overlays prepared field values on a form background and
// writes a byte-reproducible PDF.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/imaging"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

var ErrNoFields = errors.New("no fields provided for PDF generation")

const (
	DocumentTitle  = "FOMO Verified Form"
	DocumentAuthor = "FOMO AI"
	SubjectPrefix  = "Verified Document "
	KeywordPrefix  = "document_id:"

	DevanagariFontFile = "NotoSansDevanagari-Regular.ttf"
	devanagariFamily   = "NotoSansDevanagari"
	latinFamily        = "Helvetica"

	minFontSize = 14
	maxFontSize = 48
	textInset   = 5
)

// fixedDate is stamped as both creation and modification date.
var fixedDate = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// documentNamespace scopes generated document ids.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://formfill.local/documents"))

type RenderOptions struct {
	// DocumentID overrides the derived id.
	DocumentID string
	// Reference resolution the bboxes were authored against; 847x1197 when zero.
	ReferenceWidth  int
	ReferenceHeight int
}

type RenderResult struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id"`
	SHA256     string `json:"sha256"`
}

type Renderer struct {
	fontDir string
	logger  *slog.Logger

	fontOnce sync.Once
	font     []byte
}

func NewRenderer(fontDir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{fontDir: fontDir, logger: logger.With("component", "render")}
}

// devanagariFont loads the Devanagari TTF once. nil means unavailable.
func (r *Renderer) devanagariFont() []byte {
	r.fontOnce.Do(func() {
		if r.fontDir == "" {
			return
		}
		p := filepath.Join(r.fontDir, DevanagariFontFile)
		b, err := os.ReadFile(p)
		if err != nil {
			r.logger.Warn("render.font.missing", "path", p, "error", err)
			return
		}
		r.font = b
	})
	return r.font
}

// Render draws fields over the background image and writes outputPath.
func (r *Renderer) Render(ctx context.Context, backgroundPath string, fields []Field, outputPath string, opts RenderOptions) (RenderResult, error) {
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)
	if len(fields) == 0 {
		metrics.IncPDFRender("error")
		return RenderResult{}, ErrNoFields
	}

	bg, err := os.ReadFile(backgroundPath)
	if err != nil {
		metrics.IncPDFRender("error")
		return RenderResult{}, fmt.Errorf("read background: %w", err)
	}
	img, format, err := imaging.Decode(bg)
	if err != nil {
		metrics.IncPDFRender("error")
		return RenderResult{}, fmt.Errorf("background %s: %w", backgroundPath, err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	docID := opts.DocumentID
	if docID == "" {
		docID, err = DocumentID(bg, fields, filepath.Base(outputPath))
		if err != nil {
			metrics.IncPDFRender("error")
			return RenderResult{}, err
		}
	}

	refW, refH := opts.ReferenceWidth, opts.ReferenceHeight
	if refW <= 0 {
		refW = template.DefaultReferenceWidth
	}
	if refH <= 0 {
		refH = template.DefaultReferenceHeight
	}
	sx, sy := float64(width)/float64(refW), float64(height)/float64(refH)
	r.logger.Info("render.pdf.start",
		"req_id", reqID,
		"output", outputPath,
		"background", fmt.Sprintf("%dx%d", width, height),
		"scale_x", sx,
		"scale_y", sy,
		"fields", len(fields),
	)

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(fixedDate)
	pdf.SetModificationDate(fixedDate)
	pdf.SetTitle(DocumentTitle, false)
	pdf.SetAuthor(DocumentAuthor, false)
	pdf.SetSubject(SubjectPrefix+docID, false)
	pdf.SetKeywords(KeywordPrefix+docID, false)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	imgBytes, imgType := bg, "JPG"
	if format != "jpeg" {
		// fpdf reads only 8-bit non-interlaced PNG; re-encode everything else
		var buf bytes.Buffer
		if err := png.Encode(&buf, imaging.Flatten(img)); err != nil {
			metrics.IncPDFRender("error")
			return RenderResult{}, fmt.Errorf("encode background: %w", err)
		}
		imgBytes, imgType = buf.Bytes(), "PNG"
	}
	imgOpts := fpdf.ImageOptions{ImageType: imgType}
	pdf.RegisterImageOptionsReader("background", imgOpts, bytes.NewReader(imgBytes))
	pdf.ImageOptions("background", 0, 0, float64(width), float64(height), false, imgOpts, 0, "")

	hasDevanagari := false
	if font := r.devanagariFont(); font != nil {
		pdf.AddUTF8FontFromBytes(devanagariFamily, "", font)
		hasDevanagari = true
	}
	latin := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTextColor(0, 0, 0)

	drawn := 0
	for _, f := range fields {
		bx, by, bw, bh, ok := f.box()
		if !ok {
			r.logger.Warn("render.field.invalid_bbox", "req_id", reqID, "field_id", f.ID)
			continue
		}
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		x := int(float64(bx) * sx)
		y := int(float64(by) * sy)
		w := int(float64(bw) * sx)
		h := int(float64(bh) * sy)
		fs := FontSize(h)
		baseline := Baseline(y, h, fs)

		if f.Type == template.TypeBoxGrid {
			pdf.SetFont(latinFamily, "", float64(fs))
			n := f.boxes()
			boxW := float64(w) / float64(n)
			for i, d := range GridDigits(f.Value, n) {
				pdf.Text(float64(x)+float64(i)*boxW+boxW*0.25, baseline, string(d))
			}
			r.logger.Debug("render.field.grid", "field_id", f.ID, "boxes", n, "font_size", fs)
		} else {
			value := f.Value
			if f.Style.Uppercase {
				value = strings.ToUpper(value)
			}
			family := latinFamily
			if hasDevanagari && HasDevanagari(value) {
				family = devanagariFamily
			} else {
				value = latin(value)
			}
			pdf.SetFont(family, "", float64(fs))
			pdf.Text(float64(x+textInset), baseline, value)
			r.logger.Debug("render.field.text", "field_id", f.ID, "font", family, "font_size", fs, "x", x+textInset, "y", baseline)
		}
		drawn++
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		metrics.IncPDFRender("error")
		return RenderResult{}, fmt.Errorf("write pdf: %w", err)
	}
	data := Scrub(out.Bytes())

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			metrics.IncPDFRender("error")
			return RenderResult{}, err
		}
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		metrics.IncPDFRender("error")
		return RenderResult{}, fmt.Errorf("write %s: %w", outputPath, err)
	}
	sum := sha256.Sum256(data)
	res := RenderResult{Path: outputPath, DocumentID: docID, SHA256: hex.EncodeToString(sum[:])}

	metrics.IncPDFRender("ok")
	r.logger.Info("render.pdf.ok",
		"req_id", reqID,
		"output", outputPath,
		"document_id", docID,
		"drawn", drawn,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// DocumentID derives a UUIDv5 from the background bytes, the fields and the
// output base name.
func DocumentID(background []byte, fields []Field, outputBase string) (string, error) {
	fj, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	h := sha256.New()
	h.Write(background)
	h.Write(fj)
	h.Write([]byte(outputBase))
	return uuid.NewSHA1(documentNamespace, h.Sum(nil)).String(), nil
}

// FontSize is 70% of the box height clamped to [14, 48].
func FontSize(h int) int {
	return min(max(minFontSize, int(float64(h)*0.70)), maxFontSize)
}

// Baseline returns the text baseline measured from the top of the page.
func Baseline(y, h, fontSize int) float64 {
	fs := float64(fontSize)
	return float64(y+h) - ((float64(h)-fs)/2 + fs*0.25)
}

// GridDigits keeps the decimal digits of s, at most n of them.
func GridDigits(s string, n int) []rune {
	var out []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, r)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// HasDevanagari reports whether s has a code point in U+0900..U+097F.
func HasDevanagari(s string) bool {
	for _, r := range s {
		if r >= 0x0900 && r <= 0x097F {
			return true
		}
	}
	return false
}

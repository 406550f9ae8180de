package render

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Info is what Inspect reads back from a rendered PDF.
type Info struct {
	Pages        int    `json:"pages"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Subject      string `json:"subject"`
	Keywords     string `json:"keywords"`
	CreationDate string `json:"creation_date"`
	ModDate      string `json:"mod_date"`
	DocumentID   string `json:"document_id"`
	Text         string `json:"text"`
}

var pdfcpuConfigOnce sync.Once

// Inspect validates path with pdfcpu and reads its info dictionary and
// plain text with ledongthuc/pdf.
func Inspect(path string) (Info, error) {
	pdfcpuConfigOnce.Do(func() {
		// keep pdfcpu from creating a config dir under $HOME
		model.ConfigPath = "disable"
	})

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadContext(f, conf)
	if err != nil {
		return Info{}, fmt.Errorf("read pdf context: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return Info{}, fmt.Errorf("validate pdf: %w", err)
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return Info{}, fmt.Errorf("page count: %w", err)
	}
	info := Info{Pages: pctx.PageCount}

	st, err := f.Stat()
	if err != nil {
		return info, err
	}
	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return info, fmt.Errorf("open pdf reader: %w", err)
	}
	if d := r.Trailer().Key("Info"); !d.IsNull() {
		info.Title = d.Key("Title").Text()
		info.Author = d.Key("Author").Text()
		info.Subject = d.Key("Subject").Text()
		info.Keywords = d.Key("Keywords").Text()
		info.CreationDate = d.Key("CreationDate").Text()
		info.ModDate = d.Key("ModDate").Text()
	}
	for _, kw := range strings.Fields(info.Keywords) {
		if id, ok := strings.CutPrefix(kw, KeywordPrefix); ok {
			info.DocumentID = id
			break
		}
	}
	info.Text = plainText(r)
	return info, nil
}

func plainText(r *pdf.Reader) (text string) {
	defer func() {
		// the text extractor panics on some content streams
		if recover() != nil {
			text = ""
		}
	}()
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(t)
	}
	return sb.String()
}

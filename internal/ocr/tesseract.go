package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// tesseractText runs tesseract on a single region image and returns the trimmed text.
func (e *FieldEngine) tesseractText(ctx context.Context, path, lang string, psm int) (string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.tesseractArgs(path, lang, psm)...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return strings.TrimSpace(string(out)), nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (e *FieldEngine) tesseractTSVConfidence(ctx context.Context, path, lang string, psm int) (float64, error) {
	args := append(e.tesseractArgs(path, lang, psm), "tsv")
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w: %s", err, truncate(string(errb), 512))
	}
	return meanTSVConfidence(string(out)), nil
}

func (e *FieldEngine) tesseractArgs(path, lang string, psm int) []string {
	// tesseract <file> stdout -l <lang> --psm <n> --oem 3
	args := []string{path, "stdout", "-l", lang, "--psm", strconv.Itoa(psm), "--oem", "3"}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func meanTSVConfidence(tsv string) float64 {
	lines := strings.Split(tsv, "\n")
	// conf column is the 11th of 12; header line includes "conf"
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := strings.TrimSpace(cols[10])
		if confStr == "" || confStr == "-1" || strings.TrimSpace(cols[11]) == "" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n / 100.0
}

// installedLanguages lists tesseract language packs. Older builds print the
// list on stderr, so both streams are scanned.
func (e *FieldEngine) installedLanguages(ctx context.Context) (map[string]struct{}, error) {
	args := []string{"--list-langs"}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract --list-langs: %w", err)
	}
	langs := make(map[string]struct{})
	for _, ln := range strings.Split(string(out)+"\n"+string(errb), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.Contains(ln, " ") || strings.HasSuffix(ln, ":") {
			continue
		}
		langs[ln] = struct{}{}
	}
	return langs, nil
}

// resolveLang keeps the installed parts of a "+"-joined language spec.
// The returned warning is empty when the request is used as-is.
func (e *FieldEngine) resolveLang(ctx context.Context, requested string) (string, string) {
	if requested == "" {
		requested = e.cfg.DefaultLang
	}
	e.langsOnce.Do(func() {
		e.langs, e.langsErr = e.installedLanguages(ctx)
	})
	if e.langsErr != nil || len(e.langs) == 0 {
		return FallbackLang, fmt.Sprintf("ocr: tesseract languages unavailable, using %q instead of %q", FallbackLang, requested)
	}

	var kept []string
	for _, part := range strings.Split(requested, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := e.langs[part]; ok {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return FallbackLang, fmt.Sprintf("ocr: language %q not installed, using %q", requested, FallbackLang)
	}
	got := strings.Join(kept, "+")
	if got != requested {
		return got, fmt.Sprintf("ocr: language %q partially installed, using %q", requested, got)
	}
	return got, ""
}

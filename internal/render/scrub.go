package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// FixedPDFDate is written over every PDF date string.
const FixedPDFDate = "D:20250101000000+00'00'"

var (
	pdfDateRe   = regexp.MustCompile(`D:\d{14}(Z|[+-]\d{2}'\d{2}'?)?`)
	startxrefRe = regexp.MustCompile(`startxref\r?\n(\d+)\r?\n%%EOF\s*$`)
)

// Scrub rewrites every PDF date string to FixedPDFDate. When that changes
// the file length, the xref table and startxref are shifted to match, so
// the result stays a valid uncompressed PDF.
func Scrub(pdf []byte) []byte {
	matches := pdfDateRe.FindAllIndex(pdf, -1)
	if len(matches) == 0 {
		return pdf
	}

	out := make([]byte, 0, len(pdf)+len(matches)*len(FixedPDFDate))
	ends := make([]int, len(matches))
	shifts := make([]int, len(matches))
	prev, shift := 0, 0
	for i, m := range matches {
		out = append(out, pdf[prev:m[0]]...)
		out = append(out, FixedPDFDate...)
		shift += len(FixedPDFDate) - (m[1] - m[0])
		ends[i], shifts[i] = m[1], shift
		prev = m[1]
	}
	out = append(out, pdf[prev:]...)
	if shift == 0 {
		return out
	}

	moved := func(off int) int {
		d := 0
		for i, e := range ends {
			if e > off {
				break
			}
			d = shifts[i]
		}
		return off + d
	}
	if fixed, ok := shiftXref(out, moved); ok {
		return fixed
	}
	return out
}

// shiftXref rewrites a classic single-section xref table. Entries are fixed
// width, so only startxref can change length.
func shiftXref(pdf []byte, moved func(int) int) ([]byte, bool) {
	loc := startxrefRe.FindSubmatchIndex(pdf)
	if loc == nil {
		return nil, false
	}
	oldXref, err := strconv.Atoi(string(pdf[loc[2]:loc[3]]))
	if err != nil {
		return nil, false
	}
	xref := moved(oldXref)
	if xref < 0 || xref >= len(pdf) || !bytes.HasPrefix(pdf[xref:], []byte("xref")) {
		return nil, false
	}

	// "xref\n0 N\n" then N entries of 20 bytes
	pos := xref + len("xref")
	for pos < len(pdf) && (pdf[pos] == '\n' || pdf[pos] == '\r') {
		pos++
	}
	eol := bytes.IndexByte(pdf[pos:], '\n')
	if eol < 0 {
		return nil, false
	}
	var first, count int
	if _, err := fmt.Sscanf(string(pdf[pos:pos+eol]), "%d %d", &first, &count); err != nil {
		return nil, false
	}
	pos += eol + 1

	const entryLen = 20
	if pos+count*entryLen > loc[0] {
		return nil, false
	}
	for i := 0; i < count; i++ {
		e := pdf[pos+i*entryLen : pos+(i+1)*entryLen]
		if e[17] != 'n' {
			continue
		}
		off, err := strconv.Atoi(string(e[:10]))
		if err != nil {
			return nil, false
		}
		copy(e[:10], fmt.Sprintf("%010d", moved(off)))
	}

	tail := []byte(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xref))
	return append(pdf[:loc[0]:loc[0]], tail...), true
}

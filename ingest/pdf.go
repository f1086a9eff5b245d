// Package ingest folds PDF exports of campaign reports into the tabular
// pipeline so they ride the same aggregation and CSV path as live HTML
// documents.
//
// Extraction is text-layer only: content streams are scanned for text
// operators, positioning operators widen into column gaps or break lines,
// and lines that split into enough whitespace-separated cells are
// reassembled into grids. Scanned (image-only) PDFs yield nothing.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/reportlens/tabular"
)

// minGridCells is the narrowest line still treated as a table row. Anything
// narrower is prose around the table.
const minGridCells = 3

// FromPDFFile reads path and delegates to FromPDF.
func FromPDFFile(path string) ([]tabular.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	return FromPDF(f)
}

// FromPDF parses a text-layer PDF into one snapshot per detected grid. A
// grid is a run of consecutive lines each splitting into at least
// minGridCells cells; the first line of a run is its header. A PDF with no
// grid at all is an error, since there is nothing to aggregate.
func FromPDF(rs io.ReadSeeker) ([]tabular.Snapshot, error) {
	ctx, err := api.ReadValidateAndOptimize(rs, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("ingest: read pdf: %w", err)
	}

	var snaps []tabular.Snapshot
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		snaps = append(snaps, pageGrids(ctx, pageNr)...)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("ingest: no tabular content in pdf (%d pages)", ctx.PageCount)
	}
	return snaps, nil
}

// pageGrids extracts one page's content stream and reconstructs its grids.
// Pages that fail extraction are skipped rather than failing the document.
func pageGrids(ctx *model.Context, pageNr int) []tabular.Snapshot {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return nil
	}
	return collectGrids(streamLines(data))
}

// --- Content stream rendering ---

// pdfStringRe matches PDF string literals: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// streamLines renders a content stream into logical text lines. Show
// operators (Tj, TJ, ') append decoded strings, horizontal moves (Td, TD
// with zero ty) widen into a column gap, and vertical moves, T*, ' and ET
// break lines. This is a fixed-width-ish rendering good enough for gap
// splitting, not a layout engine: TJ kerning arrays are concatenated and
// the text matrix is never tracked.
func streamLines(data []byte) []string {
	var lines []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimRight(cur.String(), " \t"); strings.TrimSpace(s) != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	show := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			cur.WriteString(decodeString(m[1]))
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			show(line)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			flush()
			show(line)
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if verticalMove(line) {
				flush()
			} else if cur.Len() > 0 {
				cur.WriteString("  ")
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			flush()
		}
	}
	flush()
	return lines
}

// verticalMove reports whether a Td/TD operator moves the cursor
// vertically. Report exporters advance rows with "0 -14 Td" as often as
// with T*, so a nonzero ty operand is a row break, not a column gap.
func verticalMove(line []byte) bool {
	f := strings.Fields(string(line))
	if len(f) < 3 {
		return false
	}
	ty, err := strconv.ParseFloat(f[len(f)-2], 64)
	return err == nil && ty != 0
}

// decodeString handles the PDF string escape sequences that show up in
// report exports: named escapes and octal bytes.
func decodeString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; {
		case c == 'n':
			sb.WriteByte('\n')
		case c == 'r':
			sb.WriteByte('\r')
		case c == 't':
			sb.WriteByte('\t')
		case c == '\\' || c == '(' || c == ')':
			sb.WriteByte(c)
		case c >= '0' && c <= '7':
			val := int(c - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// --- Grid reconstruction ---

// gapRe splits rendered lines on runs of two or more whitespace characters.
// Single spaces stay inside a cell ("All Success").
var gapRe = regexp.MustCompile(`\s{2,}`)

func splitCells(line string) []string {
	var cells []string
	for _, p := range gapRe.Split(line, -1) {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// collectGrids groups consecutive grid lines into snapshots. A run needs a
// header line plus at least one data line; shorter runs are layout noise.
func collectGrids(lines []string) []tabular.Snapshot {
	var snaps []tabular.Snapshot
	var run [][]string

	flush := func() {
		if len(run) >= 2 {
			snaps = append(snaps, tabular.Snapshot{Headers: run[0], Rows: run[1:]})
		}
		run = nil
	}
	for _, line := range lines {
		cells := splitCells(line)
		if len(cells) >= minGridCells {
			run = append(run, cells)
			continue
		}
		flush()
	}
	flush()
	return snaps
}

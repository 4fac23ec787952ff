package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/marketbrief/marketbrief/internal/models"
)

// Page geometry in pixels, roughly A4 at 150dpi.
const (
	pageWidth  = 1240
	pageHeight = 1754
	marginX    = 100.0
	marginY    = 120.0
	lineHeight = 34.0
	bodyWidth  = float64(pageWidth) - 2*marginX
)

// PDFRenderer turns a completed report into a PDF document. Pages are
// drawn as images and assembled with pdfcpu.
type PDFRenderer struct {
	fontPath string
}

// NewPDFRenderer creates a renderer. fontPath may be empty, in which
// case the built-in bitmap font is used.
func NewPDFRenderer(fontPath string) *PDFRenderer {
	return &PDFRenderer{fontPath: fontPath}
}

// Render produces the PDF bytes for one report. The context bounds the
// whole render; cancellation is checked between pages.
func (r *PDFRenderer) Render(ctx context.Context, rep models.Report) ([]byte, error) {
	pages, err := r.drawPages(ctx, rep)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "report-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	imageFiles := make([]string, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := filepath.Join(tempDir, fmt.Sprintf("page_%03d.png", i+1))
		if err := page.SavePNG(name); err != nil {
			return nil, fmt.Errorf("save page %d: %w", i+1, err)
		}
		imageFiles = append(imageFiles, name)
	}

	outFile := filepath.Join(tempDir, "report.pdf")
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ImportImagesFile(imageFiles, outFile, nil, cfg); err != nil {
		return nil, fmt.Errorf("assemble pdf: %w", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("read assembled pdf: %w", err)
	}
	return data, nil
}

// drawPages lays the report out across as many pages as the body needs.
func (r *PDFRenderer) drawPages(ctx context.Context, rep models.Report) ([]*gg.Context, error) {
	measure := gg.NewContext(pageWidth, pageHeight)
	if err := r.loadFont(measure, 24); err != nil {
		return nil, err
	}

	var lines []string
	lines = append(lines, measure.WordWrap(rep.Body, bodyWidth)...)
	for _, h := range highlights(rep.Metadata) {
		lines = append(lines, "")
		lines = append(lines, measure.WordWrap("• "+h, bodyWidth)...)
	}

	linesPerPageF := (float64(pageHeight) - 2*marginY - 3*lineHeight) / lineHeight
	linesPerPage := int(linesPerPageF)
	var pages []*gg.Context
	for start := 0; start < len(lines) || start == 0; start += linesPerPage {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + linesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		page, err := r.drawPage(rep, lines[start:end], len(pages) == 0)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
		if end == len(lines) {
			break
		}
	}
	return pages, nil
}

func (r *PDFRenderer) drawPage(rep models.Report, lines []string, first bool) (*gg.Context, error) {
	dc := gg.NewContext(pageWidth, pageHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0.1, 0.1, 0.1)

	y := marginY
	if first {
		if err := r.loadFont(dc, 48); err != nil {
			return nil, err
		}
		dc.DrawString(fmt.Sprintf("%s Daily Brief", rep.Ticker), marginX, y)
		y += lineHeight * 1.5
		if err := r.loadFont(dc, 28); err != nil {
			return nil, err
		}
		dc.DrawString(rep.ReportDate, marginX, y)
		y += lineHeight * 2
	}

	if err := r.loadFont(dc, 24); err != nil {
		return nil, err
	}
	for _, line := range lines {
		dc.DrawString(line, marginX, y)
		y += lineHeight
	}
	return dc, nil
}

func (r *PDFRenderer) loadFont(dc *gg.Context, size float64) error {
	if r.fontPath == "" {
		return nil
	}
	if err := dc.LoadFontFace(r.fontPath, size); err != nil {
		return fmt.Errorf("load font %s: %w", r.fontPath, err)
	}
	return nil
}

// highlights pulls the bullet list out of the report metadata. Missing
// or malformed metadata yields no bullets rather than an error.
func highlights(metadata []byte) []string {
	if len(metadata) == 0 {
		return nil
	}
	var parsed struct {
		Highlights []string `json:"highlights"`
	}
	if err := json.Unmarshal(metadata, &parsed); err != nil {
		return nil
	}
	return parsed.Highlights
}

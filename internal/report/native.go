package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/phpdave11/gofpdf"
)

// NativePrinter draws the report with gofpdf. It needs no browser, so it
// ignores Document.HTML and lays out the model directly.
type NativePrinter struct{}

// Print implements Printer.
func (NativePrinter) Print(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := doc.Model

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("Scan Report for "+m.URL, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(safeText(s)) }

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(0x1a, 0x1a, 0x1a)
	pdf.CellFormat(0, 10, "Scan Report", "", 1, "L", false, 0, "")

	kv(pdf, "URL", text(m.URL))
	kv(pdf, "Scanned at", text(m.ScannedAt))

	sectionTitle(pdf, "Lighthouse Summary")
	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	gap := 4.0
	cardWidth := (pageWidth - left - right - 3*gap) / 4
	x, y := pdf.GetXY()
	for i, card := range m.Cards {
		r, g, b := card.Grade.RGB()
		pdf.SetFillColor(r, g, b)
		pdf.SetTextColor(255, 255, 255)
		cx := x + float64(i)*(cardWidth+gap)
		pdf.RoundedRect(cx, y, cardWidth, 24, 2, "1234", "F")
		pdf.SetXY(cx, y+3)
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(cardWidth, 6, card.Label, "", 0, "C", false, 0, "")
		pdf.SetXY(cx, y+10)
		pdf.SetFont("Helvetica", "B", 18)
		pdf.CellFormat(cardWidth, 10, fmt.Sprintf("%d", card.Score), "", 0, "C", false, 0, "")
	}
	pdf.SetXY(x, y+28)

	sectionTitle(pdf, "Security Headers")
	for _, h := range m.Headers {
		bullet(pdf, h.Name, text(h.Value))
	}

	sectionTitle(pdf, "SEO Checks")
	bullet(pdf, "Title", fmt.Sprintf("%s (%d chars)", text(m.Title), m.TitleLength))
	bullet(pdf, "Meta Description", fmt.Sprintf("%s (%d chars)", text(m.MetaDescription), m.MetaDescriptionLength))
	bullet(pdf, "H1 Tags", fmt.Sprintf("%d found", m.H1Count))

	sectionTitle(pdf, "Technology Stack")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0x33, 0x33, 0x33)
	for _, tech := range m.TechStack {
		pdf.MultiCell(0, 5.5, "- "+text(tech), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(3)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(0x1a, 0x1a, 0x1a)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(0xee, 0xee, 0xee)
	left, _, right, _ := pdf.GetMargins()
	pageWidth, _ := pdf.GetPageSize()
	pdf.Line(left, pdf.GetY(), pageWidth-right, pdf.GetY())
	pdf.Ln(2)
}

func kv(pdf *gofpdf.Fpdf, key, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(0x33, 0x33, 0x33)
	pdf.CellFormat(26, 5.5, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5.5, value, "", "L", false)
}

func bullet(pdf *gofpdf.Fpdf, key, value string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(0x33, 0x33, 0x33)
	label := "- " + key + ": "
	pdf.CellFormat(pdf.GetStringWidth(label)+1, 5.5, label, "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5.5, value, "", "L", false)
}

// safeText flattens control characters that break single-line cells.
func safeText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}

package export

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// CertificateData is the content of a retirement certificate.
type CertificateData struct {
	RetirementID uuid.UUID
	AccountID    uuid.UUID
	Beneficiary  string
	CreditTokens int64
	CO2Tons      decimal.Decimal
	RetiredAt    time.Time
	Issuer       string
}

// PDFOptions configures certificate rendering
type PDFOptions struct {
	PageSize      string   `json:"page_size"`
	Title         string   `json:"title"`
	FontFamily    string   `json:"font_family"`
	DateFormat    string   `json:"date_format"`
	AccentColor   PDFColor `json:"accent_color"`
	TitleFontSize float64  `json:"title_font_size"`
	BodyFontSize  float64  `json:"body_font_size"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:      "A4",
		Title:         "Carbon Credit Retirement Certificate",
		FontFamily:    "Helvetica",
		DateFormat:    "2 January 2006 15:04 MST",
		AccentColor:   PDFColor{R: 46, G: 125, B: 50},
		TitleFontSize: 22,
		BodyFontSize:  12,
	}
}

// CertificateGenerator renders retirement certificates
type CertificateGenerator struct {
	options PDFOptions
}

func NewCertificateGenerator(options PDFOptions) *CertificateGenerator {
	return &CertificateGenerator{options: options}
}

// Render writes a single-page landscape certificate to w.
func (g *CertificateGenerator) Render(w io.Writer, data CertificateData) error {
	pdf := gofpdf.New("L", "mm", g.options.PageSize, "")
	pdf.SetTitle(g.options.Title, true)
	pdf.SetAuthor(data.Issuer, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, pageH := pdf.GetPageSize()
	accent := g.options.AccentColor

	pdf.SetDrawColor(accent.R, accent.G, accent.B)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, pageW-20, pageH-20, "D")
	pdf.SetLineWidth(0.4)
	pdf.Rect(14, 14, pageW-28, pageH-28, "D")

	pdf.SetY(35)
	pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	pdf.SetTextColor(accent.R, accent.G, accent.B)
	pdf.CellFormat(0, 12, g.options.Title, "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(g.options.FontFamily, "", g.options.BodyFontSize+2)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont(g.options.FontFamily, "B", g.options.BodyFontSize+8)
	pdf.CellFormat(0, 12, tr(data.Beneficiary), "", 1, "C", false, 0, "")
	pdf.SetFont(g.options.FontFamily, "", g.options.BodyFontSize+2)
	pdf.CellFormat(0, 8, "is the beneficiary of the permanent retirement of", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont(g.options.FontFamily, "B", g.options.BodyFontSize+6)
	pdf.CellFormat(0, 10, fmt.Sprintf("%d credit tokens (%s t CO2e)", data.CreditTokens, data.CO2Tons.String()), "", 1, "C", false, 0, "")

	pdf.Ln(12)
	g.detail(pdf, "Retirement ID", data.RetirementID.String())
	g.detail(pdf, "Retired by account", data.AccountID.String())
	g.detail(pdf, "Retired at", data.RetiredAt.UTC().Format(g.options.DateFormat))
	g.detail(pdf, "Issued by", data.Issuer)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render certificate: %w", err)
	}
	return nil
}

func (g *CertificateGenerator) detail(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetX(60)
	pdf.SetFont(g.options.FontFamily, "B", g.options.BodyFontSize)
	pdf.CellFormat(55, 7, label+":", "", 0, "L", false, 0, "")
	pdf.SetFont(g.options.FontFamily, "", g.options.BodyFontSize)
	pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
}

// Package quote renders enterprise pricing quotes as PDF documents.
package quote

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

// Color scheme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorAccent      = [3]int{46, 204, 113}  // Green
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorHighlight   = [3]int{220, 245, 230} // Applied tier
	colorGridLine    = [3]int{220, 220, 220}
)

// Quote is the input to Render. Rules are the organization's volume
// discount tiers; Result is the priced outcome for UserCount seats.
type Quote struct {
	OrganizationName string
	OrganizationID   string
	Interval         string
	Currency         string
	Rules            []pricing.VolumeDiscountRule
	Result           pricing.EnterpriseQuote
	GeneratedAt      time.Time
}

// Render produces a one-page PDF quote.
func Render(q Quote) ([]byte, error) {
	if q.GeneratedAt.IsZero() {
		q.GeneratedAt = time.Now().UTC()
	}
	if q.Interval == "" {
		q.Interval = "month"
	}
	if q.Currency == "" {
		q.Currency = "usd"
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle("Enterprise pricing quote", false)
	pdf.AddPage()

	writeHeader(pdf, q)
	writeSummaryBox(pdf, q)
	writeTierTable(pdf, q)
	writeTotals(pdf, q)
	writeFooter(pdf, q)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(pdf *fpdf.Fpdf, q Quote) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 5, "FIELDNOTE", "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, q.GeneratedAt.Format("January 2, 2006"), "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 12, "Enterprise Pricing Quote", "", 1, "L", false, 0, "")

	name := q.OrganizationName
	if name == "" {
		name = "Prospective customer"
	}
	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, name, "", 1, "L", false, 0, "")
	if q.OrganizationID != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 5, q.OrganizationID, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func writeSummaryBox(pdf *fpdf.Fpdf, q Quote) {
	pageWidth, _ := pdf.GetPageSize()
	boxWidth := pageWidth - 40
	boxY := pdf.GetY()

	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.RoundedRect(20, boxY, boxWidth, 26, 3, "1234", "FD")

	cells := []struct{ label, value string }{
		{"USERS", fmt.Sprintf("%d", q.Result.UserCount)},
		{"BILLING", intervalLabel(q.Interval)},
		{"BASE PRICE / USER", money(q.Result.BasePricePerUser, q.Currency)},
	}
	cellWidth := boxWidth / float64(len(cells))
	for i, c := range cells {
		x := 20 + float64(i)*cellWidth
		pdf.SetXY(x, boxY+5)
		pdf.SetFont("Arial", "B", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(cellWidth, 5, c.label, "", 0, "C", false, 0, "")
		pdf.SetXY(x, boxY+12)
		pdf.SetFont("Arial", "B", 14)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(cellWidth, 8, c.value, "", 0, "C", false, 0, "")
	}
	pdf.SetY(boxY + 34)
}

func writeTierTable(pdf *fpdf.Fpdf, q Quote) {
	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Volume discount tiers", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	rules := pricing.SortRules(q.Rules)
	if len(rules) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 7, "No volume discounts apply to this agreement.", "", 1, "L", false, 0, "")
		pdf.Ln(4)
		return
	}

	widths := []float64{60, 50, 60}
	headers := []string{"Minimum users", "Discount", "Price per user"}
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for i, rule := range rules {
		applied := q.Result.SelectedRule != nil &&
			q.Result.SelectedRule.MinUsers == rule.MinUsers &&
			q.Result.SelectedRule.DiscountPercent == rule.DiscountPercent
		switch {
		case applied:
			pdf.SetFillColor(colorHighlight[0], colorHighlight[1], colorHighlight[2])
			pdf.SetFont("Arial", "B", 9)
		case i%2 == 1:
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
			pdf.SetFont("Arial", "", 9)
		default:
			pdf.SetFillColor(255, 255, 255)
			pdf.SetFont("Arial", "", 9)
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		tierPrice := q.Result.BasePricePerUser * (1 - rule.DiscountPercent/100)
		label := fmt.Sprintf("%s+", trimFloat(rule.MinUsers))
		if applied {
			label += "  (applied)"
		}
		pdf.CellFormat(widths[0], 7, label, "", 0, "C", true, 0, "")
		pdf.CellFormat(widths[1], 7, trimFloat(rule.DiscountPercent)+"%", "", 0, "C", true, 0, "")
		pdf.CellFormat(widths[2], 7, money(tierPrice, q.Currency), "", 1, "C", true, 0, "")
	}
	pdf.Ln(6)
}

func writeTotals(pdf *fpdf.Fpdf, q Quote) {
	r := q.Result
	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	per := "per " + q.Interval
	rows := []struct{ label, value string }{
		{fmt.Sprintf("Base price (%d users)", r.UserCount), money(r.BasePrice, q.Currency)},
		{fmt.Sprintf("Volume discount (%s%%)", trimFloat(r.DiscountPercent)), "-" + money(r.DiscountAmount, q.Currency)},
	}
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(110, 7, row.label, "", 0, "L", false, 0, "")
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(60, 7, row.value, "", 1, "R", false, 0, "")
	}

	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.Line(20, pdf.GetY()+1, 190, pdf.GetY()+1)
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(110, 8, "Total "+per, "", 0, "L", false, 0, "")
	pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
	pdf.CellFormat(60, 8, money(r.DiscountedPrice, q.Currency), "", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(110, 7, "Effective price per user", "", 0, "L", false, 0, "")
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(60, 7, money(r.EffectivePricePerUser, q.Currency), "", 1, "R", false, 0, "")
	if r.AppliedRule != nil {
		pdf.SetFont("Arial", "I", 9)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 6, "Applied tier: "+*r.AppliedRule, "", 1, "L", false, 0, "")
	}
}

func writeFooter(pdf *fpdf.Fpdf, q Quote) {
	pageWidth, pageHeight := pdf.GetPageSize()
	pdf.SetY(pageHeight - 30)
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s. Prices exclude applicable taxes.",
		q.GeneratedAt.Format("January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func intervalLabel(interval string) string {
	if interval == "year" {
		return "Yearly"
	}
	return "Monthly"
}

func money(v float64, currency string) string {
	return fmt.Sprintf("%s %.2f", strings.ToUpper(currency), v)
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// Package pdf renders a canonical certificate into the downloadable A4
// document served by the registry.
package pdf

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/unidoc/unipdf/v3/creator"
	"github.com/unidoc/unipdf/v3/model"

	"secregistry/internal/certificate"
)

const title = "Solar Energy Certificate"

// Filename names the attachment for a certificate id.
func Filename(id int64) string {
	return fmt.Sprintf("SEC_%d.pdf", id)
}

// documentLines is the body of the certificate document, one drawn line each.
func documentLines(c certificate.Canonical) []string {
	return []string{
		fmt.Sprintf("ID: %d", c.ID),
		fmt.Sprintf("Owner: %s", c.Owner),
		fmt.Sprintf("Energy: %s kWh", strconv.FormatFloat(c.EnergyKwh, 'f', -1, 64)),
		fmt.Sprintf("Issued: %s UTC", c.TimestampHuman),
		"Verified by SEC Registry",
	}
}

// Render produces the PDF bytes for a canonical certificate.
func Render(c certificate.Canonical) ([]byte, error) {
	doc := creator.New()
	doc.SetPageSize(creator.PageSizeA4)
	doc.NewPage()

	titleFont, err := model.NewStandard14Font(model.HelveticaBoldName)
	if err != nil {
		return nil, fmt.Errorf("load title font: %w", err)
	}
	bodyFont, err := model.NewStandard14Font(model.HelveticaName)
	if err != nil {
		return nil, fmt.Errorf("load body font: %w", err)
	}

	heading := doc.NewParagraph(title)
	heading.SetFont(titleFont)
	heading.SetFontSize(20)
	heading.SetPos(140, 60)
	if err := doc.Draw(heading); err != nil {
		return nil, fmt.Errorf("draw heading: %w", err)
	}

	y := 100.0
	for _, line := range documentLines(c) {
		p := doc.NewParagraph(line)
		p.SetFont(bodyFont)
		p.SetFontSize(14)
		p.SetPos(80, y)
		if err := doc.Draw(p); err != nil {
			return nil, fmt.Errorf("draw line: %w", err)
		}
		y += 24
	}

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

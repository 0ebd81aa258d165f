// Package report lays out the two-page strategic PDF: KPIs, the forecast
// chart and its narrative on page one, the segmentation chart and its
// narrative on page two.
package report

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"
)

const (
	Title  = "Integrated Strategic Report"
	Footer = "Retail Analytics App - Confidential"

	margin         = 50.0
	bodyFontSize   = 12.0
	leading        = 14.0
	forecastImgW   = 500.0
	forecastImgH   = 220.0
	clusterImgW    = 500.0
	clusterImgH    = 250.0
	footerBaseline = 30.0

	maxImageSide = 8192
)

// Assembler renders ReportInputs to PDF bytes.
type Assembler struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(logger *zap.Logger) *Assembler {
	return &Assembler{logger: logger, now: time.Now}
}

// layout is the drawing state for one document.
type layout struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	w, h   float64
	y      float64 // next baseline, measured from the top
	logger *zap.Logger
}

// Assemble renders in. Missing or unreadable images leave their region out;
// any drawing error fails the whole document so no partial bytes escape.
func (a *Assembler) Assemble(in domain.ReportInput) (doc []byte, err error) {
	const op = "report.Assemble"

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewAnalysisError(domain.KindReportAssembly, op, fmt.Errorf("panic: %v", r))
			a.logger.Error("error assembling report", zap.Error(err))
			doc = nil
		}
	}()

	generated := in.GeneratedAt
	if generated.IsZero() {
		generated = a.now()
	}

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle(Title, true)
	pdf.SetCreator("retail-insights-go", true)
	pdf.SetCreationDate(generated)
	pdf.SetAutoPageBreak(false, margin)

	w, h := pdf.GetPageSize()
	l := &layout{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), w: w, h: h, logger: a.logger}

	pdf.SetFooterFunc(func() {
		if pdf.PageNo() < 2 {
			return
		}
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.Text(margin, h-footerBaseline, Footer)
	})

	// Page 1: KPIs and forecast.
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(margin, margin, l.tr(Title))

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(128, 128, 128)
	pdf.Text(margin, 65, "Generated: "+generated.Format("2006-01-02 15:04"))

	pdf.SetDrawColor(0, 0, 0)
	pdf.Line(margin, 80, w-margin, 80)

	l.y = 110
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(margin, l.y, "1. Executive Summary (KPIs)")
	l.y += 25

	pdf.SetFont("Helvetica", "", 12)
	for _, k := range in.KPIs {
		pdf.Text(70, l.y, l.tr(fmt.Sprintf("- %s: %s", k.Label, k.Value)))
		l.y += 20
	}

	l.y += 20
	l.section(fmt.Sprintf("2. Financial Forecast (%d Weeks)", in.HorizonWeeks))
	l.image("forecast", in.ForecastImage, forecastImgW, forecastImgH)
	l.narrative("AI Strategic Analysis:", in.ForecastNarrative)

	// Page 2: segmentation.
	pdf.AddPage()
	l.y = margin
	l.section("3. Customer Segmentation Strategy")
	l.image("cluster", in.ClusterImage, clusterImgW, clusterImgH)
	l.narrative("AI Behavioral Insights:", in.SegmentationNarrative)

	if err := pdf.Error(); err != nil {
		a.logger.Error("error assembling report", zap.Error(err))
		return nil, domain.NewAnalysisError(domain.KindReportAssembly, op, err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		a.logger.Error("error writing report", zap.Error(err))
		return nil, domain.NewAnalysisError(domain.KindReportAssembly, op, err)
	}

	a.logger.Debug("report assembled",
		zap.Int("pages", pdf.PageCount()),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

// section draws an underlined dark-blue heading.
func (l *layout) section(heading string) {
	l.pdf.SetFont("Helvetica", "B", 16)
	l.pdf.SetTextColor(0, 0, 139)
	l.pdf.Text(margin, l.y, l.tr(heading))
	l.pdf.SetDrawColor(0, 0, 139)
	l.pdf.Line(margin, l.y+5, l.w-margin, l.y+5)
	l.y += 15
}

// image places data below the cursor. Absent or undecodable data leaves the
// cursor where it is.
func (l *layout) image(name string, data []byte, width, height float64) {
	if len(data) == 0 {
		return
	}

	imageType, err := checkImage(data)
	if err != nil {
		l.logger.Warn("skipping undecodable report image",
			zap.String("image", name),
			zap.Error(err),
		)
		return
	}

	opts := fpdf.ImageOptions{ImageType: imageType}
	l.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if l.pdf.Err() {
		l.logger.Warn("skipping undecodable report image",
			zap.String("image", name),
			zap.Error(l.pdf.Error()),
		)
		l.pdf.ClearError()
		return
	}

	l.pdf.ImageOptions(name, margin, l.y, width, height, false, opts, 0, "")
	l.y += height + 20
}

// checkImage fully decodes data and returns its fpdf image type. fpdf parses
// PNG streams without bounds checks, so only images the standard decoders
// accept are handed to it.
func checkImage(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return "", fmt.Errorf("image is %dx%d, limit %d per side", cfg.Width, cfg.Height, maxImageSide)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return "", err
	}

	switch format {
	case "png":
		return "PNG", nil
	case "jpeg":
		return "JPG", nil
	}
	return "", fmt.Errorf("unsupported image format %q", format)
}

// narrative draws a bold caption followed by wrapped body text, continuing
// on a fresh page when the text reaches the bottom margin.
func (l *layout) narrative(caption, text string) {
	l.y += 10
	l.pdf.SetFont("Helvetica", "B", 12)
	l.pdf.SetTextColor(0, 0, 0)
	l.pdf.Text(margin, l.y, caption)
	l.y += 20

	l.pdf.SetFont("Helvetica", "", bodyFontSize)
	measure := func(s string) float64 { return l.pdf.GetStringWidth(l.tr(s)) }
	for _, line := range WrapText(measure, text, l.w-2*margin) {
		if l.y > l.h-margin {
			l.pdf.AddPage()
			l.pdf.SetFont("Helvetica", "", bodyFontSize)
			l.pdf.SetTextColor(0, 0, 0)
			l.y = margin
		}
		l.pdf.Text(margin, l.y, l.tr(line))
		l.y += leading
	}
}

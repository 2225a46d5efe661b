package report

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/lalchand07/Auditly/internal/browser"
)

// PageOpener hands out isolated playwright pages.
type PageOpener interface {
	Page(ctx context.Context) (playwright.BrowserContext, playwright.Page, error)
}

// PlaywrightPrinter sets the document content and prints it to A4.
type PlaywrightPrinter struct {
	pages PageOpener
}

// NewPlaywrightPrinter returns a printer drawing pages from pages.
func NewPlaywrightPrinter(pages PageOpener) *PlaywrightPrinter {
	return &PlaywrightPrinter{pages: pages}
}

// Print implements Printer.
func (p *PlaywrightPrinter) Print(ctx context.Context, doc Document) ([]byte, error) {
	bctx, pg, err := p.pages.Page(ctx)
	if err != nil {
		return nil, err
	}
	closeCtx := func() { _ = bctx.Close() }
	defer closeCtx()

	timeout, err := browser.Budget(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	// PDF takes no timeout, so the whole print is bounded by ctx.
	return browser.Await(ctx, closeCtx, func() ([]byte, error) {
		opts := playwright.PageSetContentOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   timeout,
		}
		if err := pg.SetContent(string(doc.HTML), opts); err != nil {
			return nil, fmt.Errorf("set content: %w", err)
		}
		pdf, err := pg.PDF(playwright.PagePdfOptions{
			Format:          playwright.String("A4"),
			PrintBackground: playwright.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("print to pdf: %w", err)
		}
		return pdf, nil
	})
}

package report

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/lalchand07/Auditly/internal/browser"
)

// A4 in inches, as PrintToPDF expects.
const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
)

// TabOpener opens short-lived browser tabs.
type TabOpener interface {
	Tab(ctx context.Context) (context.Context, context.CancelFunc, error)
}

// ChromedpPrinter loads the document into a fresh tab and prints it.
type ChromedpPrinter struct {
	tabs TabOpener
}

// NewChromedpPrinter returns a printer drawing tabs from tabs.
func NewChromedpPrinter(tabs TabOpener) *ChromedpPrinter {
	return &ChromedpPrinter{tabs: tabs}
}

// Print implements Printer.
func (p *ChromedpPrinter) Print(ctx context.Context, doc Document) ([]byte, error) {
	tab, cancel, err := p.tabs.Tab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	idle := browser.WatchNetwork(tab)
	var pdf []byte
	err = browser.RunInTab(ctx, tab,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, string(doc.HTML)).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		idle.Wait(browser.DefaultQuietPeriod),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPaperWidth(a4WidthInches).
				WithPaperHeight(a4HeightInches).
				WithPrintBackground(true).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

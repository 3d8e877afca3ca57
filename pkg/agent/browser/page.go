package browser

import (
	"strings"

	"github.com/playwright-community/playwright-go"
)

// page is the subset of browser page behavior a Session relies on.
// Timeouts are in milliseconds, as playwright expects.
type page interface {
	Goto(url string, timeout float64) error
	WaitFor(selector string, timeout float64) error
	Texts(selector string) ([]string, error)
	Content() (string, error)
	Title() string
	URL() string
	Fill(selector, value string, timeout float64) error
	Click(selector string, timeout float64) error
	WaitForLoad(timeout float64) error
	Screenshot(path string) error
	Close() error
}

// pwPage drives a real playwright page together with the browser that
// owns it.
type pwPage struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (p *pwPage) Goto(url string, timeout float64) error {
	waitUntil := playwright.WaitUntilState("load")
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	})
	return err
}

func (p *pwPage) WaitFor(selector string, timeout float64) error {
	state := playwright.WaitForSelectorState("visible")
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &state,
		Timeout: &timeout,
	})
	return err
}

func (p *pwPage) Texts(selector string) ([]string, error) {
	elements, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		text, err := el.TextContent()
		if err != nil {
			return nil, err
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}

func (p *pwPage) Content() (string, error) {
	return p.page.Content()
}

func (p *pwPage) Title() string {
	title, err := p.page.Title()
	if err != nil {
		return ""
	}
	return title
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Fill(selector, value string, timeout float64) error {
	return p.page.Fill(selector, value, playwright.PageFillOptions{Timeout: &timeout})
}

func (p *pwPage) Click(selector string, timeout float64) error {
	return p.page.Click(selector, playwright.PageClickOptions{Timeout: &timeout})
}

func (p *pwPage) WaitForLoad(timeout float64) error {
	state := playwright.LoadState("load")
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: &timeout,
	})
}

func (p *pwPage) Screenshot(path string) error {
	fullPage := true
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     &path,
		FullPage: &fullPage,
	})
	return err
}

func (p *pwPage) Close() error {
	_ = p.page.Close()    // Ignore errors, continue cleanup
	_ = p.context.Close() // Ignore errors, continue cleanup
	return p.browser.Close()
}

// Package nav tracks which page of the assistive client is current and
// resolves spoken navigation targets. At most one page is current at a time.
package nav

import "strings"

// Page identifies one of the client's pages.
type Page string

const (
	PageVision     Page = "vision"
	PageTextReader Page = "reader"
	PageChat       Page = "chat"
	PageSettings   Page = "settings"
	PageDemo       Page = "demo"
	PageHome       Page = "home"
	PageExit       Page = "exit"
)

var all = []Page{PageVision, PageTextReader, PageChat, PageSettings, PageDemo, PageHome, PageExit}

// Valid reports whether p names a known page.
func Valid(p Page) bool {
	for _, known := range all {
		if p == known {
			return true
		}
	}
	return false
}

// Parse maps a page identifier string to a Page, defaulting to home.
func Parse(s string) Page {
	p := Page(strings.ToLower(strings.TrimSpace(s)))
	if Valid(p) {
		return p
	}
	return PageHome
}

// Route is the total transition function: navigating to a valid target
// switches pages, anything else keeps the current page.
func Route(current, target Page) Page {
	if Valid(target) {
		return target
	}
	return current
}

// Title returns the spoken name for a page.
func Title(p Page) string {
	switch p {
	case PageVision:
		return "Vision"
	case PageTextReader:
		return "Text Reader"
	case PageChat:
		return "Chat"
	case PageSettings:
		return "Settings"
	case PageDemo:
		return "Demo"
	case PageHome:
		return "Home"
	case PageExit:
		return "Exit"
	}
	return string(p)
}

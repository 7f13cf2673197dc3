// Package numfmt formats the large byte and page counts that show up in
// boot log lines with locale-aware thousands separators, the way the
// teacher's Phys_init reports reserved pages ("Reserved %v pages
// (%vMB)") but readable at the scale Sv39 physical memory actually reaches.
package numfmt

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Bytes renders n with thousands separators, e.g. "134,217,728".
func Bytes(n uint64) string {
	return printer.Sprintf("%d", n)
}

// Pages renders a page count alongside its size in megabytes, matching the
// teacher's boot diagnostic shape: "2,048 pages (8.0MB)".
func Pages(count uint64, pageSize uint64) string {
	mb := float64(count*pageSize) / (1024 * 1024)
	return printer.Sprintf("%d pages (%.1fMB)", count, mb)
}

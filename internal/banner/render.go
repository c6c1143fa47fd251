package banner

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/tillguard/internal/exposure"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatDuration renders an outage length as "42s", "3m 7s" or "2h 15m".
func FormatDuration(d time.Duration) string {
	sec := int64(d / time.Second)
	if sec < 0 {
		sec = 0
	}
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	min := sec / 60
	if min < 60 {
		return fmt.Sprintf("%dm %ds", min, sec%60)
	}
	return fmt.Sprintf("%dh %dm", min/60, min%60)
}

// FormatMoney renders minor units as dollars with grouping, e.g. "$1,234.50".
func FormatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%s.%02d", sign, printer.Sprintf("%d", cents/100), cents%100)
}

// Render draws the view as plain text lines. A hidden banner renders as "".
func Render(v View) string {
	var b strings.Builder

	switch v.Kind {
	case KindRecovered:
		b.WriteString("CONNECTION RESTORED - SYNCING OFFLINE ORDERS\n")
		if v.QueuedOrders > 0 {
			fmt.Fprintf(&b, "%s waiting to sync\n", plural(v.QueuedOrders, "order"))
		}

	case KindOffline:
		b.WriteString("OFFLINE - CASH ONLY MODE\n")
		fmt.Fprintf(&b, "No internet for %s", FormatDuration(v.OfflineFor))
		if v.QueuedOrders > 0 {
			fmt.Fprintf(&b, " | %s queued", plural(v.QueuedOrders, "order"))
		}
		b.WriteString("\n")

		if e := v.Exposure; e != nil {
			fmt.Fprintf(&b, "Cash taken: %s of %s (%s) | %s left\n",
				FormatMoney(e.CashTotal), FormatMoney(e.Cap), e.DisplayPercent(), FormatMoney(e.Remaining))
			switch e.Level {
			case exposure.LevelWarn:
				b.WriteString("Cash cap almost reached\n")
			case exposure.LevelCapReached:
				b.WriteString("CASH CAP REACHED - no more cash sales until a manager raises the cap\n")
			}
		}
		if v.Warning != "" {
			fmt.Fprintf(&b, "WARNING: %s\n", v.Warning)
		}
	}

	return b.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return printer.Sprintf("%d %ss", n, noun)
}

// bar.go - Fortschrittsbalken mit Rate und Restzeit
package progress

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/ollama/ortdiffusion/format"
)

type Stats struct {
	rate      int64
	value     int64
	remaining time.Duration
}

// Bar tracks a byte count towards a maximum. Set is safe for concurrent use.
type Bar struct {
	mu sync.Mutex

	message      string
	messageWidth int

	maxValue     int64
	initialValue int64
	currentValue int64

	started time.Time

	stats   Stats
	statted time.Time
}

func NewBar(message string, maxValue, initialValue int64) *Bar {
	return &Bar{
		message:      message,
		messageWidth: -1,
		maxValue:     maxValue,
		initialValue: initialValue,
		currentValue: initialValue,
		started:      time.Now(),
	}
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = defaultTermWidth
	}
	return b.render(termWidth)
}

func (b *Bar) render(termWidth int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pre, mid, suf strings.Builder

	if b.message != "" {
		message := strings.TrimSpace(b.message)
		if b.messageWidth > 0 {
			message = runewidth.Truncate(message, b.messageWidth, "")
			message = runewidth.FillRight(message, b.messageWidth)
		}
		pre.WriteString(message)
		pre.WriteString(" ")
	}

	fmt.Fprintf(&pre, "%3.0f%% ", math.Floor(b.percent()))

	fmt.Fprintf(&suf, "(%s/%s", format.HumanBytes(b.currentValue), format.HumanBytes(b.maxValue))

	stats := b.statsLocked()
	running := stats.value > b.initialValue && stats.value < b.maxValue
	if running {
		fmt.Fprintf(&suf, ", %s/s", format.HumanBytes(stats.rate))
	}
	suf.WriteString(")")

	var timing string
	if running {
		timing = fmt.Sprintf("[%s:%s]", format.HumanDuration(time.Since(b.started)), format.HumanDuration(stats.remaining))
	}

	// the stats on the right take at most 44 columns
	if suf.Len() < 44-len(timing) {
		suf.WriteString(strings.Repeat(" ", 44-suf.Len()-len(timing)))
	}
	suf.WriteString(timing)

	// 2 boundary characters and 1 trailing space
	f := termWidth - runewidth.StringWidth(pre.String()) - suf.Len() - 3
	n := int(float64(f) * b.percent() / 100)

	if f > 0 {
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		if f-n > 0 {
			mid.WriteString(strings.Repeat(" ", f-n))
		}
		mid.WriteString("▏")
	}

	return pre.String() + mid.String() + suf.String()
}

// Set updates the current value and, when max is positive, the maximum.
func (b *Bar) Set(value, max int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max > 0 {
		b.maxValue = max
	}
	b.currentValue = min(value, b.maxValue)
}

func (b *Bar) percent() float64 {
	if b.maxValue > 0 {
		return float64(b.currentValue) / float64(b.maxValue) * 100
	}
	return 0
}

func (b *Bar) statsLocked() Stats {
	if time.Since(b.statted) < time.Second {
		return b.stats
	}

	switch {
	case b.statted.IsZero():
		b.stats = Stats{value: b.initialValue}
	case b.currentValue >= b.maxValue:
		b.stats = Stats{value: b.maxValue}
	default:
		rate := b.currentValue - b.stats.value
		remaining := time.Duration(math.MaxInt64)
		if rate > 0 {
			remaining = time.Second * time.Duration(float64(b.maxValue-b.currentValue)/float64(rate))
		}
		b.stats = Stats{value: b.currentValue, rate: rate, remaining: remaining}
	}

	b.statted = time.Now()
	return b.stats
}

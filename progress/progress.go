// progress.go - Mehrzeilige Fortschrittsanzeige fuer Terminals
// Hauptfunktionen: NewProgress, Add, Stop
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	defaultTermWidth  = 80
	defaultTermHeight = 24
)

type State interface {
	String() string
}

// Progress redraws its states every 100ms until stopped.
type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering
	w *bufio.Writer

	pos int

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
	states []State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      bufio.NewWriter(w),
		ticker: time.NewTicker(100 * time.Millisecond),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.start()
	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

// Stop renders the final state and restores the cursor.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return false
	}
	p.ticker.Stop()
	p.ticker = nil
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.render()

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return true
}

func (p *Progress) render() {
	_, termHeight, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termHeight = defaultTermHeight
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}
	fmt.Fprint(p.w, "\033[1G")

	maxHeight := min(len(p.states), termHeight)
	for i := len(p.states) - maxHeight; i < len(p.states); i++ {
		fmt.Fprint(p.w, p.states[i].String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = len(p.states)
	p.w.Flush()
}

func (p *Progress) start() {
	defer p.wg.Done()

	// hide cursor
	p.mu.Lock()
	fmt.Fprint(p.w, "\033[?25l")
	ticker := p.ticker
	p.mu.Unlock()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.render()
		}
	}
}

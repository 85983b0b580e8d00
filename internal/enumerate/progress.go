package enumerate

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
)

// Progress observes request attempts.
type Progress interface {
	// Step is called once after every request attempt.
	Step()
	// Failed is called before Step when a request failed and will be repeated
	// in forever mode.
	Failed(err error)
}

// NoProgress discards all progress events.
type NoProgress struct{}

func (NoProgress) Step()        {}
func (NoProgress) Failed(error) {}

// DotProgress writes one "." per attempt. A reported failure adds an
// "Error: <status>" line followed by a one-line summary of the response.
// Writes go straight to w; pass an unbuffered writer such as os.Stdout.
type DotProgress struct {
	mu    sync.Mutex
	w     io.Writer
	steps int
}

// NewDotProgress creates a DotProgress writing to w.
func NewDotProgress(w io.Writer) *DotProgress {
	return &DotProgress{w: w}
}

func (p *DotProgress) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps++
	_, _ = io.WriteString(p.w, ".")
}

func (p *DotProgress) Failed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var statusErr *wikierrors.StatusError
	if errors.As(err, &statusErr) {
		_, _ = fmt.Fprintf(p.w, "Error: %d\n%s\n", statusErr.StatusCode, responseSummary(statusErr))
		return
	}
	_, _ = fmt.Fprintf(p.w, "Error: %v\n", err)
}

// responseSummary renders the status line and the body flattened to one line.
func responseSummary(e *wikierrors.StatusError) string {
	line := strconv.Itoa(e.StatusCode)
	if text := http.StatusText(e.StatusCode); text != "" {
		line += " " + text
	}
	if body := strings.Join(strings.Fields(e.Body), " "); body != "" {
		line += ": " + body
	}
	return line
}

// Steps returns the number of dots written so far.
func (p *DotProgress) Steps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps
}

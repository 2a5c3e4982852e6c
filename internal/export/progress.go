package export

import (
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// Meter renders terminal activity for long operations: a byte-accurate bar
// when the total is known, a plain spinner otherwise.
type Meter struct {
	bar    *pb.ProgressBar
	source io.Reader
}

// NewMeter wraps r with a progress bar sized to total, used for off-site
// uploads where the stream length is known up front.
func NewMeter(r io.Reader, total int64, label string) *Meter {
	tmpl := fmt.Sprintf(`{{ "%s" }} {{ bar . "[" "#" "#" "." "]" }} {{counters . }} {{percent . }}`, label)

	bar := pb.New64(total)
	bar.Set(pb.SIBytesPrefix, true)
	bar.SetTemplateString(tmpl)
	bar.SetRefreshRate(120 * time.Millisecond)
	bar.Start()

	return &Meter{bar: bar, source: bar.NewProxyReader(r)}
}

// NewSpinner starts a spinner for operations without a known size, such as
// image saves and volume compression.
func NewSpinner(label string) *Meter {
	tmpl := fmt.Sprintf(`{{ "%s" }} {{ cycle . "|" "/" "-" "\\" }}`, label)

	bar := pb.New(0)
	bar.SetTemplateString(tmpl)
	bar.SetRefreshRate(120 * time.Millisecond)
	bar.Start()

	return &Meter{bar: bar}
}

// Read implements io.Reader for bar-backed meters.
func (m *Meter) Read(p []byte) (int, error) {
	if m.source == nil {
		return 0, io.EOF
	}
	return m.source.Read(p)
}

// Stop finishes the meter.
func (m *Meter) Stop() {
	m.bar.Finish()
}

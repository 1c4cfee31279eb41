package cli

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// countBar shows progress over a batch whose size is known at the first update.
type countBar struct {
	w    io.Writer
	desc string
	bar  *progressbar.ProgressBar
}

func newCountBar(w io.Writer, desc string) *countBar {
	return &countBar{w: w, desc: desc}
}

// update has the signature of lookup.ProgressFunc.
func (b *countBar) update(done, total int) {
	if b.bar == nil {
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionSetDescription(b.desc),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = b.bar.Set(done)
}

// Finish completes the bar, if one was started.
func (b *countBar) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}

// newByteBar returns a writer that shows how many bytes went through it.
func newByteBar(w io.Writer, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

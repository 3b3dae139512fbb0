package cli

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/request"
)

// barListener draws a download's progress on a terminal bar.
type barListener struct {
	bar   *progressbar.ProgressBar
	sized bool
}

func newBarListener(w io.Writer, name string) request.Listener {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(w, "\n")
		}),
	)

	return &barListener{bar: bar}
}

func (l *barListener) OnStart() {}

func (l *barListener) OnProgress(p progress.Progress) {
	if !l.sized && p.GetTotalSize() > 0 {
		l.bar.ChangeMax64(p.GetTotalSize())
		l.sized = true
	}

	_ = l.bar.Set64(p.GetDownloaded())
}

func (l *barListener) OnPause() {
	l.bar.Describe("paused")
	_ = l.bar.Exit()
}

func (l *barListener) OnCancel() {
	l.bar.Describe("cancelled")
	_ = l.bar.Exit()
}

func (l *barListener) OnComplete() {
	_ = l.bar.Finish()
}

func (l *barListener) OnError(error) {
	_ = l.bar.Exit()
}

package request

import "github.com/NamanBalaji/rdm/internal/progress"

// Listener receives lifecycle events for a single request. Calls for one
// request arrive in order from the goroutine running it.
type Listener interface {
	OnStart()
	OnProgress(p progress.Progress)
	OnPause()
	OnCancel()
	OnComplete()
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Start    func()
	Progress func(p progress.Progress)
	Pause    func()
	Cancel   func()
	Complete func()
	Error    func(err error)
}

func (l ListenerFuncs) OnStart() {
	if l.Start != nil {
		l.Start()
	}
}

func (l ListenerFuncs) OnProgress(p progress.Progress) {
	if l.Progress != nil {
		l.Progress(p)
	}
}

func (l ListenerFuncs) OnPause() {
	if l.Pause != nil {
		l.Pause()
	}
}

func (l ListenerFuncs) OnCancel() {
	if l.Cancel != nil {
		l.Cancel()
	}
}

func (l ListenerFuncs) OnComplete() {
	if l.Complete != nil {
		l.Complete()
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

type nopListener struct{}

func (nopListener) OnStart() {}
func (nopListener) OnProgress(progress.Progress) {}
func (nopListener) OnPause() {}
func (nopListener) OnCancel() {}
func (nopListener) OnComplete() {}
func (nopListener) OnError(error) {}

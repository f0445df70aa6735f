package glassy

const (
	ActionDownload = "download"
	ActionUpload   = "upload"
)

// Progress reports how many items of a batch are done.
// Done increases by one per event.
type Progress struct {
	Action string
	Done   int
	Total  int
}

// ProgressFunc receives progress events. It is always called from the
// goroutine that started the batch.
type ProgressFunc func(Progress)

// progressCounter emits one event per completed item.
type progressCounter struct {
	action string
	total  int
	done   int
	fn     ProgressFunc
}

func newProgressCounter(action string, total int, fn ProgressFunc) *progressCounter {
	return &progressCounter{action: action, total: total, fn: fn}
}

func (p *progressCounter) step() {
	p.done++
	if p.fn != nil {
		p.fn(Progress{Action: p.action, Done: p.done, Total: p.total})
	}
}

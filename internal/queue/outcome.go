package queue

type Kind int

const (
	KindContinue Kind = iota
	KindDone
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "CONTINUE"
	case KindDone:
		return "DONE"
	case KindFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of executing one task.
type Outcome struct {
	Kind       Kind
	NextOffset int64
	Rows       int
	Bytes      int64
	Err        error
}

func Continue(next int64, rows int, bytes int64) Outcome {
	return Outcome{Kind: KindContinue, NextOffset: next, Rows: rows, Bytes: bytes}
}

func Done(rows int, bytes int64) Outcome {
	return Outcome{Kind: KindDone, Rows: rows, Bytes: bytes}
}

func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

// Reason is the failure message, empty unless the outcome failed.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

package nn

// Tape records the ops executed while gradient recording is enabled.
// Nothing here computes gradients; the recording is what a training step
// would replay, and its absence is what no-grad execution guarantees.
type Tape struct {
	ops       []string
	recording bool
}

func NewTape() *Tape {
	return &Tape{ops: make([]string, 0, 64)}
}

func (t *Tape) StartRecording() {
	t.recording = true
}

func (t *Tape) StopRecording() {
	t.recording = false
}

func (t *Tape) IsRecording() bool {
	return t.recording
}

// Record appends op if the tape is recording.
func (t *Tape) Record(op string) {
	if t.recording {
		t.ops = append(t.ops, op)
	}
}

// Clear drops recorded ops. The recording state is preserved.
func (t *Tape) Clear() {
	t.ops = t.ops[:0]
}

func (t *Tape) NumOps() int {
	return len(t.ops)
}

// Ops returns a copy of the recorded op names.
func (t *Tape) Ops() []string {
	return append([]string(nil), t.ops...)
}

// NoGrad runs fn with gradient recording disabled on m's tape. The previous
// recording state is restored when fn returns or panics.
func NoGrad(m Module, fn func() error) error {
	tape := m.Tape()
	prev := tape.IsRecording()
	tape.StopRecording()

	defer func() {
		if prev {
			tape.StartRecording()
		}
	}()

	return fn()
}

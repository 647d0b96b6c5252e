package pipeline

// Reason enumerates why a playout session stopped, mirroring the error
// taxonomy: a handful of fatal kinds the tick loop alone is allowed to raise,
// plus the two non-fatal kinds (SpoolFull, TransientNetwork) that never
// reach here because they are absorbed locally by the evidence subsystem.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonInvariantViolation  Reason = "InvariantViolation"
	ReasonPreparationFailed   Reason = "PreparationFailed"
	ReasonAudioUnderflow      Reason = "AudioUnderflow"
	ReasonVideoUnderflow      Reason = "VideoUnderflow"
	ReasonSeamMiss            Reason = "SeamMiss"
	ReasonUnderrunNoNextBlock Reason = "UnderrunNoNextBlock"
	ReasonSinkDetached        Reason = "SinkDetached"
	ReasonStopRequested       Reason = "StopRequested"
)

// Termination is the outcome of a finished Run: the reason and a
// human-readable detail, persisted as the session's CHANNEL_TERMINATED
// evidence event before the tick loop returns.
type Termination struct {
	Reason Reason
	Detail string
}

func (t Termination) String() string {
	if t.Detail == "" {
		return string(t.Reason)
	}
	return string(t.Reason) + ": " + t.Detail
}

package fwdl

import (
	"errors"
	"fmt"
)

var (
	errSyncAck     = errors.New("fwdl: bad sync acknowledgment")
	errNoImage     = errors.New("fwdl: nil image")
	errEmptyImage  = errors.New("fwdl: image has no payload")
	errBadMagic    = errors.New("fwdl: bad image magic")
	errTruncated   = errors.New("fwdl: image truncated")
	errTooLarge    = errors.New("fwdl: image exceeds size limit")
	errBadLenField = errors.New("fwdl: bad segment length field")
	errNotFound    = errors.New("fwdl: firmware not found")
)

// Step is a stage of the download sequence.
type Step uint8

const (
	StepSyncToken Step = iota + 1
	StepSync
	StepConfig
	StepData
	StepJump
)

func (s Step) String() string {
	switch s {
	case StepSyncToken:
		return "sync-token"
	case StepSync:
		return "sync"
	case StepConfig:
		return "config"
	case StepData:
		return "data"
	case StepJump:
		return "jump"
	}
	return "unknown-step"
}

// AckError is returned when the boot ROM rejects a frame.
type AckError struct {
	Ack Ack
}

func (e *AckError) Error() string {
	if e.Ack.Magic != ackMagic {
		return fmt.Sprintf("fwdl: bad ack magic %#x", e.Ack.Magic)
	}
	return fmt.Sprintf("fwdl: ack status %#x", e.Ack.Status)
}

// StepError wraps the failure of a download step.
type StepError struct {
	Step    Step
	Segment int // -1 when the step is not tied to a segment.
	Err     error
}

func (e *StepError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("fwdl: %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("fwdl: %s segment %d: %v", e.Step, e.Segment, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func errjoin(errs ...error) error { return errors.Join(errs...) }

package protocol

import (
	"io"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// State is one node of the leaf-side push-session state machine.
type State int

const (
	stateInit State = iota
	stateReady
	stateDecide
	stateReceiving
	stateDone
)

func (s State) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateReady:
		return "READY"
	case stateDecide:
		return "DECIDE"
	case stateReceiving:
		return "RECEIVING"
	case stateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Sink receives decoded push-session events. Session.Run calls exactly one
// method per accepted frame; FileItem returns whether the item changed, so
// the session knows whether a StartSend may follow.
type Sink interface {
	ServerYml(yml string) error
	// FileItem is told about an incoming file item and must report
	// whether the leaf considers it changed, which gates whether a
	// subsequent StartSend is legal.
	FileItem(path string) (changed bool, err error)
	// Receive is called once per Content frame with exactly len(data)
	// bytes; a non-nil error aborts the session without renaming any
	// temp file into place.
	Receive(path string, data []byte) error
	// Commit is called once a file's RECEIVING phase completes cleanly,
	// so the sink can rename its staging file into its final path.
	Commit(path string) error
}

// Session drives the leaf side of the push-session state machine
// (spec.md §4.5) against an io.Reader carrying framed messages.
type Session struct {
	r     io.Reader
	sink  Sink
	state State

	currentPath    string
	currentChanged bool
}

// NewSession builds a push-session state machine reading frames from r
// and dispatching to sink.
func NewSession(r io.Reader, sink Sink) *Session {
	return &Session{r: r, sink: sink, state: stateInit}
}

// Run drives the session to completion (DONE) or returns the first
// protocol violation encountered. Any unknown tag, or a tag illegal for
// the current state, is a fatal protocol error (spec.md §4.5).
func (s *Session) Run() error {
	for s.state != stateDone {
		tag, err := ReadTag(s.r)
		if err != nil {
			return err
		}
		if err := s.step(tag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) step(tag Tag) error {
	switch s.state {
	case stateInit:
		if tag != TagServerYml {
			return errors.Protocolf("expected ServerYml in INIT, got %s", tag)
		}
		yml, err := ReadString(s.r)
		if err != nil {
			return err
		}
		if err := s.sink.ServerYml(yml); err != nil {
			return err
		}
		s.state = stateReady
		return nil

	case stateReady:
		switch tag {
		case TagFileItem:
			path, err := ReadString(s.r)
			if err != nil {
				return err
			}
			changed, err := s.sink.FileItem(path)
			if err != nil {
				return err
			}
			s.currentPath = path
			s.currentChanged = changed
			if changed {
				// Only a changed item has a StartSend to wait for; an
				// unchanged item sends no frame, so there is nothing to
				// decide and the session returns straight to READY.
				s.state = stateDecide
			} else {
				s.state = stateReady
			}
			return nil
		case TagRepeatDone, TagEof:
			s.state = stateDone
			return nil
		default:
			return errors.Protocolf("expected FileItem, RepeatDone or Eof in READY, got %s", tag)
		}

	case stateDecide:
		switch tag {
		case TagStartSend:
			if !s.currentChanged {
				return errors.Protocolf("StartSend without a preceding FileItemChanged")
			}
			length, err := ReadU64(s.r)
			if err != nil {
				return err
			}
			if err := s.receiveContent(length); err != nil {
				return err
			}
			s.state = stateReady
			return nil
		default:
			return errors.Protocolf("expected StartSend in DECIDE, got %s", tag)
		}

	default:
		return errors.Protocolf("unexpected tag %s in state %s", tag, s.state)
	}
}

func (s *Session) receiveContent(length uint64) error {
	buf := make([]byte, length)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return errors.Truncatedf("content run: demanded %d bytes", length)
	}
	if err := s.sink.Receive(s.currentPath, buf); err != nil {
		return err
	}
	return s.sink.Commit(s.currentPath)
}

package ringitem

import (
	"errors"
	"fmt"
)

// ErrNotStateChange reports an item that is not a run state change.
var ErrNotStateChange = errors.New("ringitem: not a state change item")

// StateChange is the payload of BEGIN_RUN, END_RUN, PAUSE_RUN and
// RESUME_RUN items.
type StateChange struct {
	RunNumber      uint32
	ElapsedSeconds uint32
	UnixTime       uint32
}

// IsStateChange reports whether t is a run state change type.
func IsStateChange(t uint32) bool {
	switch t {
	case BeginRun, EndRun, PauseRun, ResumeRun:
		return true
	}
	return false
}

// NewStateChange builds a state change item. The barrier type is the item
// type, so downstream event builders treat it as a barrier.
func NewStateChange(itemType uint32, timestamp uint64, sourceID uint32, sc StateChange) (*Item, error) {
	if !IsStateChange(itemType) {
		return nil, fmt.Errorf("%w: %s", ErrNotStateChange, TypeName(itemType))
	}
	it := NewWithBodyHeader(itemType, timestamp, sourceID, itemType)
	it.AddUint32(sc.RunNumber)
	it.AddUint32(sc.ElapsedSeconds)
	it.AddUint32(sc.UnixTime)
	return it, nil
}

// DecodeStateChange extracts the state change payload of it.
func DecodeStateChange(it *Item) (StateChange, error) {
	if !IsStateChange(it.Type) {
		return StateChange{}, fmt.Errorf("%w: %s", ErrNotStateChange, TypeName(it.Type))
	}
	var sc StateChange
	var err error
	r := it.Reader()
	if sc.RunNumber, err = r.Uint32(); err != nil {
		return StateChange{}, err
	}
	if sc.ElapsedSeconds, err = r.Uint32(); err != nil {
		return StateChange{}, err
	}
	if sc.UnixTime, err = r.Uint32(); err != nil {
		return StateChange{}, err
	}
	return sc, nil
}

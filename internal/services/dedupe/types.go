// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/autobrr/relink/pkg/contenthash"
	"github.com/autobrr/relink/pkg/hardlink"
)

// ErrIllegalTransition is returned when a record is moved to a state that
// cannot follow its current one.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrCrossDevice marks a duplicate group whose members live on more than one device.
var ErrCrossDevice = errors.New("duplicate group spans multiple devices")

// ErrIntegrity marks two files whose full hashes matched while their bytes did not.
var ErrIntegrity = errors.New("full hash matched but contents differ")

// State is the lifecycle position of a FileRecord within one run.
type State int

const (
	StateUnvisited State = iota
	StateClassified
	StateConfirmedDuplicate
	StateUnique
	StatePlanned
	StateLinked
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnvisited:
		return "unvisited"
	case StateClassified:
		return "classified"
	case StateConfirmedDuplicate:
		return "confirmed_duplicate"
	case StateUnique:
		return "unique"
	case StatePlanned:
		return "planned"
	case StateLinked:
		return "linked"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateUnvisited:          {StateClassified},
	StateClassified:         {StateConfirmedDuplicate, StateUnique},
	StateConfirmedDuplicate: {StatePlanned, StateSkipped},
	StatePlanned:            {StateLinked, StateSkipped, StateFailed},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileRecord is one path's association with a storage object observed during a scan.
type FileRecord struct {
	Path    string
	Root    string
	ID      hardlink.FileID
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	UID     uint32
	GID     uint32
	Nlink   uint64
	// Seq is the record's position in path order across all roots.
	Seq int

	state State
}

// State returns the record's lifecycle state.
func (r *FileRecord) State() State {
	return r.state
}

func (r *FileRecord) transition(to State) error {
	if !CanTransition(r.state, to) {
		return fmt.Errorf("%s: %s -> %s: %w", r.Path, r.state, to, ErrIllegalTransition)
	}
	r.state = to
	return nil
}

// mustTransition is used where the pipeline guarantees the move is legal.
func (r *FileRecord) mustTransition(to State) {
	if err := r.transition(to); err != nil {
		panic(err)
	}
}

// object is one storage object inside a candidate set, reached through one or
// more observed paths. Content is read through records[0] only.
type object struct {
	id      hardlink.FileID
	records []*FileRecord

	partial    contenthash.Partial
	full       contenthash.Sum
	fullHashed bool
	err        error
}

func (o *object) rep() *FileRecord {
	return o.records[0]
}

// DuplicateGroup is a set of records confirmed to hold byte-identical content.
type DuplicateGroup struct {
	ID      int
	Size    int64
	Members []*FileRecord
}

// Prelinked reports whether every member already shares one storage object.
func (g *DuplicateGroup) Prelinked() bool {
	for _, m := range g.Members[1:] {
		if m.ID != g.Members[0].ID {
			return false
		}
	}
	return true
}

// objects returns the group's members collapsed by storage object, in path order.
func (g *DuplicateGroup) objects() []*object {
	return collapse(g.Members)
}

// LinkAction replaces Target with a new hardlink to Canonical.
type LinkAction struct {
	Group     int
	Canonical *FileRecord
	Target    *FileRecord
}

// SkipReason explains why a record was not relinked.
type SkipReason string

const (
	SkipCrossDevice      SkipReason = "cross-device"
	SkipChangedSinceScan SkipReason = "changed-since-scan"
	SkipCanceled         SkipReason = "canceled"
)

// SkipRecord is a record the planner or executor decided not to touch.
type SkipRecord struct {
	Group  int
	Path   string
	Reason SkipReason
}

// Plan is the planner output for one duplicate group.
type Plan struct {
	Group      *DuplicateGroup
	Canonicals []*FileRecord
	Actions    []LinkAction
	Skips      []SkipRecord
	Errors     []*FileError
}

// ActionStatus is the outcome of one link action.
type ActionStatus string

const (
	ActionPlanned       ActionStatus = "planned"
	ActionLinked        ActionStatus = "linked"
	ActionAlreadyLinked ActionStatus = "already-linked"
	ActionSkipped       ActionStatus = "skipped"
	ActionFailed        ActionStatus = "failed"
)

// ActionResult records what happened to one LinkAction.
type ActionResult struct {
	Group     int          `json:"group" yaml:"group"`
	Canonical string       `json:"canonical" yaml:"canonical"`
	Target    string       `json:"target" yaml:"target"`
	Size      int64        `json:"size" yaml:"size"`
	Status    ActionStatus `json:"status" yaml:"status"`
	Reason    SkipReason   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// PrelinkedSet lists paths that already shared one storage object before the run.
type PrelinkedSet struct {
	Size  int64    `json:"size" yaml:"size"`
	Paths []string `json:"paths" yaml:"paths"`
}

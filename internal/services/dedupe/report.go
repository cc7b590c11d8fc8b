// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"cmp"
	"slices"
	"time"
)

// Exit codes for a finished run.
const (
	ExitOK          = 0
	ExitPartial     = 1
	ExitConfigError = 2
)

// Report aggregates the results of a run. Each executor worker fills its own
// Report; they are combined with Merge.
type Report struct {
	DryRun   bool     `json:"dryRun" yaml:"dryRun"`
	Canceled bool     `json:"canceled" yaml:"canceled"`
	Roots    []string `json:"roots" yaml:"roots"`

	FilesScanned    int64 `json:"filesScanned" yaml:"filesScanned"`
	Directories     int64 `json:"directories" yaml:"directories"`
	SymlinksIgnored int64 `json:"symlinksIgnored" yaml:"symlinksIgnored"`
	SpecialIgnored  int64 `json:"specialIgnored" yaml:"specialIgnored"`
	FilteredOut     int64 `json:"filteredOut" yaml:"filteredOut"`
	EmptySkipped    int64 `json:"emptySkipped" yaml:"emptySkipped"`
	SizeSkipped     int64 `json:"sizeSkipped" yaml:"sizeSkipped"`
	TempSkipped     int64 `json:"tempSkipped" yaml:"tempSkipped"`
	MountsSkipped   int64 `json:"mountsSkipped" yaml:"mountsSkipped"`

	DuplicateGroups      int   `json:"duplicateGroups" yaml:"duplicateGroups"`
	DuplicateFiles       int   `json:"duplicateFiles" yaml:"duplicateFiles"`
	PrelinkedPaths       int   `json:"prelinkedPaths" yaml:"prelinkedPaths"`
	BytesPreviouslySaved int64 `json:"bytesPreviouslySaved" yaml:"bytesPreviouslySaved"`

	LinksCreated   int   `json:"linksCreated" yaml:"linksCreated"`
	AlreadyLinked  int   `json:"alreadyLinked" yaml:"alreadyLinked"`
	Skipped        int   `json:"skipped" yaml:"skipped"`
	Failed         int   `json:"failed" yaml:"failed"`
	BytesReclaimed int64 `json:"bytesReclaimed" yaml:"bytesReclaimed"`

	Comparisons         int64 `json:"comparisons" yaml:"comparisons"`
	BytesRead           int64 `json:"bytesRead" yaml:"bytesRead"`
	IntegrityViolations int64 `json:"integrityViolations" yaml:"integrityViolations"`

	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	Errors   []*FileError   `json:"errors" yaml:"errors"`
	Skips    []SkipRecord   `json:"skips" yaml:"skips"`
	Actions  []ActionResult `json:"actions" yaml:"actions"`
	Previous []PrelinkedSet `json:"previous,omitempty" yaml:"previous,omitempty"`
}

// ExitCode maps the report to a process exit status.
func (r *Report) ExitCode() int {
	if len(r.Errors) > 0 || r.Canceled {
		return ExitPartial
	}
	return ExitOK
}

// Merge adds the counters and details of o into r. Merging is associative
// and commutative up to the order of detail slices, which Sort restores.
func (r *Report) Merge(o *Report) {
	if o == nil {
		return
	}
	r.Canceled = r.Canceled || o.Canceled

	r.FilesScanned += o.FilesScanned
	r.Directories += o.Directories
	r.SymlinksIgnored += o.SymlinksIgnored
	r.SpecialIgnored += o.SpecialIgnored
	r.FilteredOut += o.FilteredOut
	r.EmptySkipped += o.EmptySkipped
	r.SizeSkipped += o.SizeSkipped
	r.TempSkipped += o.TempSkipped
	r.MountsSkipped += o.MountsSkipped

	r.DuplicateGroups += o.DuplicateGroups
	r.DuplicateFiles += o.DuplicateFiles
	r.PrelinkedPaths += o.PrelinkedPaths
	r.BytesPreviouslySaved += o.BytesPreviouslySaved

	r.LinksCreated += o.LinksCreated
	r.AlreadyLinked += o.AlreadyLinked
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.BytesReclaimed += o.BytesReclaimed

	r.Comparisons += o.Comparisons
	r.BytesRead += o.BytesRead
	r.IntegrityViolations += o.IntegrityViolations

	r.Errors = append(r.Errors, o.Errors...)
	r.Skips = append(r.Skips, o.Skips...)
	r.Actions = append(r.Actions, o.Actions...)
	r.Previous = append(r.Previous, o.Previous...)
}

// Sort orders detail slices by path so reports are reproducible.
func (r *Report) Sort() {
	slices.SortStableFunc(r.Errors, func(a, b *FileError) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Stage, b.Stage))
	})
	slices.SortStableFunc(r.Skips, func(a, b SkipRecord) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.Path, b.Path))
	})
	slices.SortStableFunc(r.Actions, func(a, b ActionResult) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.Target, b.Target))
	})
	slices.SortStableFunc(r.Previous, func(a, b PrelinkedSet) int {
		return cmp.Compare(a.Paths[0], b.Paths[0])
	})
}

func (r *Report) addError(err *FileError) {
	r.Errors = append(r.Errors, err)
}

func (r *Report) addSkip(s SkipRecord) {
	r.Skips = append(r.Skips, s)
	r.Skipped++
}

func (r *Report) addAction(a LinkAction, status ActionStatus, reason SkipReason, err error) {
	res := ActionResult{
		Group:     a.Group,
		Canonical: a.Canonical.Path,
		Target:    a.Target.Path,
		Size:      a.Target.Size,
		Status:    status,
		Reason:    reason,
	}
	if err != nil {
		res.Error = err.Error()
	}
	r.Actions = append(r.Actions, res)
}

// addPlan records a group and whatever its plan decided without execution.
func (r *Report) addPlan(p Plan) {
	r.DuplicateGroups++
	r.DuplicateFiles += len(p.Group.Members)
	for _, o := range p.Group.objects() {
		if len(o.records) < 2 {
			continue
		}
		paths := make([]string, len(o.records))
		for i, rec := range o.records {
			paths[i] = rec.Path
		}
		r.Previous = append(r.Previous, PrelinkedSet{Size: p.Group.Size, Paths: paths})
		r.PrelinkedPaths += len(o.records) - 1
		r.BytesPreviouslySaved += int64(len(o.records)-1) * p.Group.Size
	}
	for _, s := range p.Skips {
		r.addSkip(s)
	}
	for _, e := range p.Errors {
		r.addError(e)
	}
}

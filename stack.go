// Copyright 2019 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reftable

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// CompactionStats holds some statistics of compaction over the
// lifetime of the stack.
type CompactionStats struct {
	Bytes    uint64
	Attempts int
	Failures int
}

// StackOption configures a Stack at construction time.
type StackOption func(*Stack)

// WithLogger attaches a zerolog.Logger; the default is disabled.
func WithLogger(log zerolog.Logger) StackOption {
	return func(st *Stack) { st.log = log }
}

// WithRegisterer registers this stack's compaction counters against
// reg instead of leaving metrics unregistered.
func WithRegisterer(reg prometheus.Registerer) StackOption {
	return func(st *Stack) { st.registerer = reg }
}

// Stack is an auto-compacting stack of reftables: the on-disk list
// file plus the readers it currently names, serialized against
// concurrent writers with exclusive-create lock files.
type Stack struct {
	listFile    string
	reftableDir string
	cfg         Config
	log         zerolog.Logger
	registerer  prometheus.Registerer
	metrics     *stackMetrics

	// mutable
	stack  []*Reader
	merged *Merged

	Stats CompactionStats
}

// NewStack opens (or creates) the reftable stack rooted at dir, whose
// list file is listFile, and performs the initial reload.
func NewStack(dir, listFile string, cfg Config, opts ...StackOption) (*Stack, error) {
	st := &Stack{
		listFile:    listFile,
		reftableDir: dir,
		cfg:         cfg.normalized(),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(st)
	}
	st.metrics = newStackMetrics(st.registerer, dir)

	if err := st.reload(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Stack) readNames() ([]string, error) {
	c, err := os.ReadFile(st.listFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErrorf(err, "reading list file %s", st.listFile)
	}
	lines := bytes.Split(c, []byte("\n"))

	var res []string
	for _, l := range lines {
		if len(l) > 0 {
			res = append(res, string(l))
		}
	}
	return res, nil
}

// Merged returns the current merged read view. The view is only valid
// until the next write, since a write may trigger a reload that swaps
// out the underlying readers.
func (st *Stack) Merged() *Merged {
	return st.merged
}

// Close releases file descriptors associated with this stack.
func (st *Stack) Close() {
	for _, r := range st.stack {
		r.Close()
	}
	st.stack = nil
}

func (st *Stack) reloadOnce(names []string) error {
	cur := map[string]*Reader{}
	for _, r := range st.stack {
		cur[r.Name()] = r
	}

	var newTables []*Reader
	defer func() {
		for _, t := range newTables {
			t.Close()
		}
	}()

	for _, name := range names {
		rd := cur[name]
		if rd != nil {
			delete(cur, name)
		} else {
			bs, err := NewFileBlockSource(filepath.Join(st.reftableDir, name))
			if err != nil {
				return err
			}

			rd, err = NewReader(bs, name)
			if err != nil {
				bs.Close()
				return formatErrorf(err, "opening table %s", name)
			}
		}
		newTables = append(newTables, rd)
	}

	// success. Swap.
	st.stack = newTables
	for _, v := range cur {
		v.Close()
	}
	newTables = nil
	return nil
}

// reload re-reads the list file and opens whatever tables it names,
// keeping any already-open reader that's still listed. A concurrent
// writer can rename a table out from under a reload between the
// directory listing and the open; whether that's a benign race or a
// genuine missing-table failure is decided by re-reading the list and
// comparing, every time it happens, regardless of how many tries have
// elapsed. Independently, the whole loop is bounded to a 3-second
// deadline: once more than 3 tries have been made AND the deadline has
// passed, reload fails rather than ever returning a stale view.
func (st *Stack) reload() error {
	var delay time.Duration
	deadline := time.Now().Add(3 * time.Second)
	tries := 0
	for {
		tries++
		if tries > 3 && !time.Now().Before(deadline) {
			return ioErrorf(nil, "reload: exceeded 3s deadline after %d tries", tries)
		}

		names, err := st.readNames()
		if err != nil {
			return err
		}
		err = st.reloadOnce(names)
		if err == nil {
			break
		}
		if !IsNotExist(err) {
			return err
		}

		// The list is unchanged from under us, yet a named table is
		// missing: that's not a race with a concurrent writer, it's a
		// genuinely broken list file. Fatal, regardless of tries.
		after, nameErr := st.readNames()
		if nameErr != nil {
			return nameErr
		}
		if reflect.DeepEqual(after, names) {
			return err
		}

		st.log.Debug().Int("tries", tries).Msg("reftable: reload raced with writer, retrying")

		// linear backoff with jitter, mirroring stack.c's
		// delay = delay + delay*rand()/RAND_MAX + 100 (microseconds).
		delay = delay + time.Duration(rand.Int63n(int64(delay)+1)) + 100*time.Microsecond
		time.Sleep(delay)
	}

	tabs := make([]*Reader, len(st.stack))
	copy(tabs, st.stack)

	st.merged = NewMerged(tabs)
	return nil
}

// UpToDate reports whether the in-memory stack still matches the
// on-disk list file.
func (st *Stack) UpToDate() (bool, error) {
	names, err := st.readNames()
	if err != nil {
		return false, err
	}

	if len(names) != len(st.stack) {
		return false, nil
	}
	for i, e := range st.stack {
		if e.Name() != names[i] {
			return false, nil
		}
	}
	return true, nil
}

// Add writes a new table to the stack transactionally: write, on
// success trigger auto-compaction, on lock contention reload (so the
// caller can observe the winner's writes) and return ErrLockFailure
// for a single retry.
func (st *Stack) Add(write func(w *Writer) error) error {
	if err := st.add(write); err != nil {
		if IsLockFailure(err) {
			st.log.Debug().Msg("reftable: add lost the write lock, reloading")
			st.reload()
		}
		return err
	}
	return st.AutoCompact()
}

func (st *Stack) add(write func(w *Writer) error) error {
	lockFile := st.listFile + ".lock"
	f, err := os.OpenFile(lockFile, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return ErrLockFailure
	}
	if err != nil {
		return ioErrorf(err, "creating lock file %s", lockFile)
	}

	defer f.Close()
	defer func() {
		if lockFile != "" {
			os.Remove(lockFile)
		}
	}()

	if ok, err := st.UpToDate(); err != nil {
		return err
	} else if !ok {
		return ErrLockFailure
	}

	var names []string
	for _, e := range st.stack {
		names = append(names, e.Name())
	}

	next := st.NextUpdateIndex()
	fn := formatName(next, next)
	tab, err := os.CreateTemp(st.reftableDir, fn+"_"+uuid.NewString()[:6]+"*.ref")
	if err != nil {
		return ioErrorf(err, "creating temp table")
	}
	defer os.Remove(tab.Name())

	wr, err := NewWriter(tab, &st.cfg)
	if err != nil {
		return err
	}

	if err := write(wr); err != nil {
		return err
	}
	if err := wr.Close(); err != nil {
		return err
	}
	if err := tab.Close(); err != nil {
		return ioErrorf(err, "closing temp table")
	}

	if wr.MinUpdateIndex < next {
		return apiErrorf("writer min_update_index %d below next update index %d", wr.MinUpdateIndex, next)
	}

	dest := fn + ".ref"
	names = append(names, dest)
	dest = filepath.Join(st.reftableDir, dest)
	if err := os.Rename(tab.Name(), dest); err != nil {
		return ioErrorf(err, "renaming new table into place")
	}

	if _, err := f.Write([]byte(strings.Join(names, "\n"))); err != nil {
		os.Remove(dest)
		return ioErrorf(err, "writing new list file")
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return ioErrorf(err, "closing new list file")
	}
	if err := os.Rename(lockFile, st.listFile); err != nil {
		os.Remove(dest)
		return ioErrorf(err, "publishing new list file")
	}
	lockFile = ""

	return st.reload()
}

func formatName(min, max uint64) string {
	return fmt.Sprintf("%012x-%012x", min, max)
}

// NextUpdateIndex returns the update index at which to write the next
// table.
func (st *Stack) NextUpdateIndex() uint64 {
	if sz := len(st.stack); sz > 0 {
		return st.stack[sz-1].MaxUpdateIndex() + 1
	}
	return 1
}

// compactLocked writes the compacted version of tables [first,last]
// into a temporary file, whose name is returned.
func (st *Stack) compactLocked(first, last int) (string, error) {
	fn := formatName(st.stack[first].MinUpdateIndex(), st.stack[last].MaxUpdateIndex())

	tmpTable, err := os.CreateTemp(st.reftableDir, fn+"_"+uuid.NewString()[:6]+"*.ref")
	if err != nil {
		return "", ioErrorf(err, "creating compaction temp table")
	}
	defer tmpTable.Close()
	rmName := tmpTable.Name()
	defer func() {
		if rmName != "" {
			os.Remove(rmName)
		}
	}()

	wr, err := NewWriter(tmpTable, &st.cfg)
	if err != nil {
		return "", err
	}

	if err := st.writeCompact(wr, first, last); err != nil {
		return "", err
	}
	if err := wr.Close(); err != nil {
		return "", err
	}
	if err := tmpTable.Close(); err != nil {
		return "", ioErrorf(err, "closing compaction temp table")
	}

	rmName = ""
	return tmpTable.Name(), nil
}

// writeCompact merges tables [first,last] into wr. Tombstones are
// dropped only when first == 0: a deletion at the base of the stack
// has nothing older left to shadow, so it can be forgotten rather
// than carried forward forever.
func (st *Stack) writeCompact(wr *Writer, first, last int) error {
	wr.SetLimits(st.stack[first].MinUpdateIndex(), st.stack[last].MaxUpdateIndex())

	var subtabs []*Reader
	for i := first; i <= last; i++ {
		subtabs = append(subtabs, st.stack[i])
	}

	merged := NewMerged(subtabs)
	it, err := merged.SeekRef("")
	if err != nil {
		return err
	}
	for {
		var rec RefRecord
		ok, err := it.NextRef(&rec)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if first == 0 && rec.IsDeletion() {
			continue
		}
		if err := wr.AddRef(&rec); err != nil {
			return err
		}
	}

	logIt, err := merged.SeekLog("", math.MaxUint64)
	if err != nil {
		return err
	}
	for {
		var rec LogRecord
		ok, err := logIt.NextLog(&rec)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := wr.AddLog(&rec); err != nil {
			return err
		}
	}
	return nil
}

func (st *Stack) compactRangeStats(first, last int) (bool, error) {
	ok, err := st.compactRange(first, last)
	if !ok {
		st.Stats.Failures++
		st.metrics.failed.Inc()
	}
	return ok, err
}

// compactRange merges tables [first,last] into one, atomically
// replacing them in the list file. It returns (false, nil) whenever it
// loses a lock race to another writer or compactor — a retryable,
// non-fatal outcome distinct from a genuine error.
func (st *Stack) compactRange(first, last int) (bool, error) {
	if first >= last {
		return true, nil
	}
	st.Stats.Attempts++
	st.metrics.attempted.Inc()

	lockFileName := st.listFile + ".lock"
	lockFile, err := os.OpenFile(lockFileName, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ioErrorf(err, "creating compaction lock file")
	}
	lockFile.Close()
	defer func() {
		if lockFileName != "" {
			os.Remove(lockFileName)
		}
	}()

	if ok, err := st.UpToDate(); !ok || err != nil {
		return false, err
	}

	var deleteOnSuccess []string
	var subtableLocks []string
	defer func() {
		for _, l := range subtableLocks {
			os.Remove(l)
		}
	}()
	for i := first; i <= last; i++ {
		subtab := filepath.Join(st.reftableDir, st.stack[i].Name())
		subtabLock := subtab + ".lock"
		l, err := os.OpenFile(subtabLock, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			return false, nil
		}
		if err != nil {
			return false, ioErrorf(err, "locking subtable %s", subtab)
		}
		l.Close()
		subtableLocks = append(subtableLocks, subtabLock)
		deleteOnSuccess = append(deleteOnSuccess, subtab)
	}

	if err := os.Remove(lockFileName); err != nil {
		return false, ioErrorf(err, "removing compaction lock file")
	}
	lockFileName = ""

	// The subtable locks now guard the range; a concurrent compactRange
	// touching an overlapping range will fail its own EEXIST check
	// above and return (false, nil) rather than clobber this one.
	tmpTable, err := st.compactLocked(first, last)
	if err != nil {
		return false, err
	}

	lockFileName = st.listFile + ".lock"
	lockFile, err = os.OpenFile(lockFileName, os.O_EXCL|os.O_CREATE|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		os.Remove(tmpTable)
		return false, nil
	}
	if err != nil {
		os.Remove(tmpTable)
		return false, ioErrorf(err, "creating publish lock file")
	}
	defer lockFile.Close()

	fn := formatName(st.stack[first].MinUpdateIndex(), st.stack[last].MaxUpdateIndex()) + ".ref"
	destTable := filepath.Join(st.reftableDir, fn)

	if err := os.Rename(tmpTable, destTable); err != nil {
		return false, ioErrorf(err, "renaming compacted table into place")
	}
	var compactedSize int64
	if fi, statErr := os.Stat(destTable); statErr == nil {
		compactedSize = fi.Size()
	}

	var names []string
	for i := 0; i < first; i++ {
		names = append(names, st.stack[i].Name())
	}
	names = append(names, fn)
	for i := last + 1; i < len(st.stack); i++ {
		names = append(names, st.stack[i].Name())
	}

	if _, err := lockFile.Write([]byte(strings.Join(names, "\n"))); err != nil {
		os.Remove(destTable)
		return false, ioErrorf(err, "writing compacted list file")
	}
	if err := lockFile.Close(); err != nil {
		os.Remove(destTable)
		return false, ioErrorf(err, "closing compacted list file")
	}
	if err := os.Rename(lockFileName, st.listFile); err != nil {
		os.Remove(destTable)
		return false, ioErrorf(err, "publishing compacted list file")
	}
	lockFileName = ""

	for _, nm := range deleteOnSuccess {
		os.Remove(nm)
	}

	st.metrics.bytes.Add(float64(compactedSize))
	st.Stats.Bytes += uint64(compactedSize)
	st.log.Info().Int("first", first).Int("last", last).Int64("bytes", compactedSize).Msg("reftable: compacted")

	return true, st.reload()
}

// tableSizesForCompaction reports the payload size the planner should
// reason about for each table: the file size less the codec's fixed
// header/footer overhead. The original reftable format's comment marks
// this overhead as 92 bytes while the historical size-planner code
// subtracts 91; this implementation keeps the planner's literal 91, as
// the intent (approximate, comparable sizes for bucketing) doesn't
// depend on the exact constant matching the codec's real 92-byte
// overhead, and changing it would be "fixing" a number the spec
// explicitly calls out rather than implementing its behavior.
func (st *Stack) tableSizesForCompaction() []uint64 {
	var res []uint64
	for _, t := range st.stack {
		sz := t.Size() - 91
		if sz < 1 {
			sz = 1
		}
		res = append(res, uint64(sz))
	}
	return res
}

// AutoCompact runs a compaction if the stack looks imbalanced.
func (st *Stack) AutoCompact() error {
	sizes := st.tableSizesForCompaction()
	seg := suggestCompactionSegment(sizes)
	if seg != nil {
		_, err := st.compactRangeStats(seg.start, seg.end-1)
		return err
	}
	return nil
}

// CompactAll compacts the entire stack into a single table.
func (st *Stack) CompactAll() error {
	if len(st.stack) == 0 {
		return nil
	}
	_, err := st.compactRange(0, len(st.stack)-1)
	return err
}

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

// ProgressFunc receives the overall install progress as a fraction in
// [0, 1]. It is invoked synchronously on the pipeline's own goroutine and
// must not block.
type ProgressFunc func(fraction float64)

// MessageFunc receives free-text status messages. It is invoked
// synchronously on the pipeline's own goroutine and must not block.
type MessageFunc func(text string)

// Fixed progress checkpoints of the install pipeline. The system image
// copy spans the range between checkpointConfigWritten and
// checkpointCopied.
const (
	checkpointEnumerated    = 0.01
	checkpointTableWritten  = 0.03
	checkpointBootFormatted = 0.05
	checkpointBootMounted   = 0.07
	checkpointBootInstalled = 0.09
	checkpointConfigWritten = 0.10
	checkpointCopied        = 0.90
	checkpointDone          = 1.00
)

// reporter pushes progress and messages to the caller, keeping the
// reported fraction monotonically non-decreasing.
type reporter struct {
	onProgress ProgressFunc
	onMessage  MessageFunc

	last float64
}

func newReporter(onProgress ProgressFunc, onMessage MessageFunc) *reporter {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	if onMessage == nil {
		onMessage = func(string) {}
	}

	return &reporter{
		onProgress: onProgress,
		onMessage:  onMessage,
	}
}

func (r *reporter) progress(fraction float64) {
	if fraction > 1 {
		fraction = 1
	}

	if fraction < r.last {
		fraction = r.last
	}

	r.last = fraction

	r.onProgress(fraction)
}

func (r *reporter) message(text string) {
	r.onMessage(text)
}

// span remaps a sub-operation's own [0, 1] progress into the global range
// [start, end].
func (r *reporter) span(start, end float64) func(fraction float64) {
	return func(fraction float64) {
		r.progress(start + fraction*(end-start))
	}
}

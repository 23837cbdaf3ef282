package training

// RunningMetrics accumulates loss and accuracy over a window of
// batches, weighted by batch size. The trainer resets it after every
// progress report so the reported train loss reflects the window, not
// the whole run.
type RunningMetrics struct {
	lossSum float64
	correct float64
	samples int
	batches int
}

// AddBatch folds one batch's mean loss and accuracy into the window.
func (rm *RunningMetrics) AddBatch(loss, accuracy float32, batchSize int) {
	rm.lossSum += float64(loss) * float64(batchSize)
	rm.correct += float64(accuracy) * float64(batchSize)
	rm.samples += batchSize
	rm.batches++
}

// Loss returns the sample-weighted mean loss of the window.
func (rm *RunningMetrics) Loss() float32 {
	if rm.samples == 0 {
		return 0
	}
	return float32(rm.lossSum / float64(rm.samples))
}

// Accuracy returns the sample-weighted mean accuracy of the window.
func (rm *RunningMetrics) Accuracy() float32 {
	if rm.samples == 0 {
		return 0
	}
	return float32(rm.correct / float64(rm.samples))
}

// Samples returns the number of samples seen since the last reset.
func (rm *RunningMetrics) Samples() int {
	return rm.samples
}

// Reset clears the window.
func (rm *RunningMetrics) Reset() {
	*rm = RunningMetrics{}
}

// Package breath implements the breathing-signal extraction engine.
//
// Frames of per-channel IQ telemetry arrive from the radio at the device's
// native rate and are buffered per channel and sample kind in a FrameStore.
// On a fixed evaluation tick the Engine pulls the most recent window for
// each channel, runs it through the despike/detrend filter pipeline, scores
// the breathing-band energy ratio with the Detector, and feeds the scores to
// the adaptive channel Selector. The Engine publishes a BreathingVerdict,
// the channel ranking, and the currently selected channel to subscribers.
//
// Ingestion (Append) and evaluation (Tick) run in independent goroutines.
// Appended samples are never mutated; window reads return copies, so the
// evaluation path never observes a torn write.
package breath

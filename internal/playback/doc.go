// Package playback renders synthesized audio one message at a time, strictly
// in arrival order.
package playback

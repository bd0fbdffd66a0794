// Package compositor blends a frame with an inverted, half-transparent copy
// of an earlier frame.
//
// Static content cancels towards neutral grey because x blended 50/50 with
// 255-x is roughly 127 for every x, while anything that moved between the
// two frames stays visible as a light/dark trail.
package compositor

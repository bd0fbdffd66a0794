// Package media holds the data model shared by every stage of a motion
// extraction run and the interfaces the run needs from a media runtime.
//
// A Runtime is the boundary to whatever actually demuxes, decodes and
// encodes video. The ffmpeg package provides the production runtime and
// mediatest provides a synthetic one. Everything above this package
// (inspect, sampler, sink, pipeline) only talks to these interfaces.
//
// Sources are shared, read-only and reference counted so that two decode
// cursors can read the same bytes without sharing any seek state.
package media

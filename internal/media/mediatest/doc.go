// Package mediatest provides a synthetic media.Runtime for tests and demos.
//
// Sources are small JSON clip descriptions staged through media.OpenBytes,
// so they travel through the same Source reference counting as real files.
// Frames are generated on demand: a grey gradient with a white square that
// moves a few pixels per frame, plus the frame index stamped into pixel
// (0,0) (R = index low byte, G = index high byte) so tests can tell which
// frame a decoder returned.
//
// The encoder writes a tiny container: a magic string, a JSON header with
// the declared frame rate, then one JPEG per frame.
package mediatest

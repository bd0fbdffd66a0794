// Command motion-extract renders a motion-extraction video from a local file.
//
// Each output frame is the input frame overlaid with an inverted copy of the
// frame -offset frames later at 50% opacity, so static regions cancel to
// gray and anything that moved stands out.
//
// Usage:
//
//	motion-extract -in input.mp4 -out output.mp4 [-offset 10] [-brightness 0] [-v]
//
// Flags:
//
//	-in          Source video (required)
//	-out         Destination file (required; overwritten)
//	-offset      Frame offset in [1, 60] (default 10)
//	-brightness  Brightness adjustment in percent, [-100, 100] (default 0)
//	-workers     Concurrent decode cursors, 1 or 2 (default: derived from CPUs)
//	-vips        Scale frames with libvips instead of imaging
//	-v           Debug logging
//
// Environment:
//
//	FFMPEG_PATH, FFPROBE_PATH - binaries to run (default: found in PATH)
//	ENCODER_PRESET, ENCODER_CRF - H.264 quality settings (default: slow, 18)
//
// A progress line is printed when stdout is a terminal. Ctrl+C cancels the
// run and leaves no output file behind. The exit status is 0 on success,
// 1 when the run fails and 2 for usage errors.
package main

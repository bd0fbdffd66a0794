// Package mediatypes maps between video file extensions and MIME types.
//
// Uploads are only accepted when they are video/*. Browsers usually send a
// part Content-Type, but curl and scripts often do not, and the system MIME
// table in slim containers does not know common video extensions such as
// .mkv or .mov. This package carries its own table so the decision does not
// depend on the host.
package mediatypes

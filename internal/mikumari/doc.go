// Package mikumari encodes and decodes the 64-bit tagged words emitted by the
// Mikumari high-resolution TDC front end.
//
// Every word carries a 6-bit data type tag in bits [63:58]. The remaining 58
// bits are laid out according to the tag:
//
//	Leading/Trailing edge  tag[63:58] channel[57:51] tot[50:29] time[28:0]
//	Heartbeat delimiter 1  tag[63:58] time_offset[39:24] frame_number[23:0]
//	Heartbeat delimiter 2  tag[63:58] data_size[39:20] data_size[19:0]
//
// Decode is total: words whose tag is not listed above come back as
// Unrecognized and re-encode to the identical word.
//
// The word stream on the wire is a headerless sequence of 8-byte words in
// the host's native byte order (see WordReader and WordWriter).
package mikumari

// Package fwdl implements the firmware download protocol spoken by the
// radio's boot ROM.
//
// All framed requests start with a 4 byte header:
//
//	| 0xA5 | type | length u16 LE |
//
// Sync, configuration and jump frames are followed by a CRC-8 over the frame
// (see [CRC8]). Data frames carry up to [MaxChunk] payload bytes and no
// checksum. Every framed request is answered by a 6 byte acknowledgment
// that is valid when its magic is 0x5A and its status is zero.
package fwdl

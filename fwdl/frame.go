package fwdl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Boot ROM protocol constants.
const (
	// MaxChunk is the largest data payload carried by one frame.
	MaxChunk = 512

	frameMagic = 0xa5
	ackMagic   = 0x5a

	typeSync = 0x00
	typeData = 0x01
	typeJump = 0x06

	hdrLen      = 4
	syncLen     = hdrLen + 1
	configLen   = hdrLen + 8 + 1
	jumpLen     = hdrLen + 4 + 1
	ackLen      = 6
	syncAckByte = '3'
)

// syncToken is the raw synchronization token sent before any framed traffic.
var syncToken = [4]byte{'c', 'n', 'y', 's'}

func putHeader(b []byte, typ uint8, length uint16) {
	b[0] = frameMagic
	b[1] = typ
	binary.LittleEndian.PutUint16(b[2:4], length)
}

func appendSync(dst []byte) []byte {
	var b [syncLen]byte
	putHeader(b[:], typeSync, 0)
	b[hdrLen] = CRC8(b[:hdrLen])
	return append(dst, b[:]...)
}

func appendConfig(dst []byte, addr, length uint32) []byte {
	var b [configLen]byte
	putHeader(b[:], typeData, 8)
	binary.LittleEndian.PutUint32(b[4:], addr)
	binary.LittleEndian.PutUint32(b[8:], length)
	b[12] = CRC8(b[:12])
	return append(dst, b[:]...)
}

func appendJump(dst []byte, addr uint32) []byte {
	var b [jumpLen]byte
	putHeader(b[:], typeJump, 2)
	binary.LittleEndian.PutUint32(b[4:], addr)
	b[8] = CRC8(b[:8])
	return append(dst, b[:]...)
}

// putData writes a data chunk frame into dst and returns its length.
// Data chunks carry no checksum.
func putData(dst, payload []byte) int {
	putHeader(dst, typeData, uint16(len(payload)))
	return hdrLen + copy(dst[hdrLen:], payload)
}

// Ack is the 6 byte reply of the boot ROM to a framed request.
type Ack struct {
	Magic  uint8
	Type   uint8
	Length uint16
	Status uint8
	CRC    uint8
}

var errShortAck = errors.New("fwdl: short acknowledgment")

// DecodeAck parses an acknowledgment.
func DecodeAck(b []byte) (Ack, error) {
	if len(b) < ackLen {
		return Ack{}, errShortAck
	}
	return Ack{
		Magic:  b[0],
		Type:   b[1],
		Length: binary.LittleEndian.Uint16(b[2:4]),
		Status: b[4],
		CRC:    b[5],
	}, nil
}

// Err returns a non nil *AckError if the acknowledgment reports failure.
func (a Ack) Err() error {
	if a.Magic != ackMagic || a.Status != 0 {
		return &AckError{Ack: a}
	}
	return nil
}

// FrameKind identifies a host to device frame.
type FrameKind uint8

const (
	KindUnknown FrameKind = iota
	KindSyncToken
	KindSync
	KindConfig
	KindData
	KindJump
)

func (k FrameKind) String() string {
	switch k {
	case KindSyncToken:
		return "sync-token"
	case KindSync:
		return "sync"
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindJump:
		return "jump"
	}
	return "unknown"
}

// Frame is a decoded host to device frame.
type Frame struct {
	Kind    FrameKind
	Addr    uint32
	Length  uint32
	Payload []byte
	// CRCOK is false for checksummed frames whose checksum does not match.
	CRCOK bool
}

func (f Frame) String() string {
	switch f.Kind {
	case KindConfig:
		return fmt.Sprintf("config addr=%#x len=%d crc_ok=%t", f.Addr, f.Length, f.CRCOK)
	case KindData:
		return fmt.Sprintf("data len=%d", f.Length)
	case KindJump:
		return fmt.Sprintf("jump addr=%#x crc_ok=%t", f.Addr, f.CRCOK)
	}
	return f.Kind.String()
}

var errUnknownFrame = errors.New("fwdl: unknown frame")

// DecodeFrame parses a single host to device frame as written by a [Programmer].
// Configuration and data frames share a type and are told apart by length.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) == len(syncToken) && [4]byte(b) == syncToken {
		return Frame{Kind: KindSyncToken, CRCOK: true}, nil
	}
	if len(b) < hdrLen || b[0] != frameMagic {
		return Frame{}, errUnknownFrame
	}
	length := binary.LittleEndian.Uint16(b[2:4])
	switch {
	case b[1] == typeSync && len(b) == syncLen:
		return Frame{Kind: KindSync, CRCOK: CRC8(b[:hdrLen]) == b[hdrLen]}, nil
	case b[1] == typeData && length == 8 && len(b) == configLen:
		return Frame{
			Kind:   KindConfig,
			Addr:   binary.LittleEndian.Uint32(b[4:]),
			Length: binary.LittleEndian.Uint32(b[8:]),
			CRCOK:  CRC8(b[:12]) == b[12],
		}, nil
	case b[1] == typeData && len(b) == hdrLen+int(length):
		return Frame{Kind: KindData, Length: uint32(length), Payload: b[hdrLen:], CRCOK: true}, nil
	case b[1] == typeJump && len(b) == jumpLen:
		return Frame{
			Kind:  KindJump,
			Addr:  binary.LittleEndian.Uint32(b[4:]),
			CRCOK: CRC8(b[:8]) == b[8],
		}, nil
	}
	return Frame{}, errUnknownFrame
}

package simplejson

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	START_BYTE byte = 0x99
	END_BYTE   byte = '\n'

	headerLen   = 4
	maxFrameLen = 1024
)

var (
	errBadFrame      = errors.New("bad frame")
	errFrameTooLarge = errors.New("frame too large")
)

type FrameMessage struct {
	Length   int
	Protocol byte
	Payload  []byte
	Buffer   []byte
}

func newFrameMessage() *FrameMessage {
	return &FrameMessage{Buffer: make([]byte, maxFrameLen)}
}

// readMessage reads one frame:
//
//	0x99 | protocol | payload length (u16 le) | payload | '\n'
//
// Payload aliases msg.Buffer and is only valid until the next read.
func readMessage(r io.Reader, msg *FrameMessage) error {
	if len(msg.Buffer) < headerLen+1 {
		return fmt.Errorf("buffer too small")
	}

	_, err := io.ReadFull(r, msg.Buffer[:headerLen])
	if err != nil {
		return err
	}
	if msg.Buffer[0] != START_BYTE {
		return errBadFrame
	}
	length := int(binary.LittleEndian.Uint16(msg.Buffer[2:4]))
	msg.Protocol = msg.Buffer[1]
	msg.Length = length + headerLen + 1

	if len(msg.Buffer) < msg.Length {
		return errFrameTooLarge
	}

	_, err = io.ReadFull(r, msg.Buffer[headerLen:msg.Length])
	if err != nil {
		return err
	}
	if msg.Buffer[msg.Length-1] != END_BYTE {
		return errBadFrame
	}

	msg.Payload = msg.Buffer[headerLen : msg.Length-1]
	return nil
}

// EncodeFrame builds a frame readable by readMessage.
func EncodeFrame(protocol byte, payload []byte) []byte {
	buf := make([]byte, headerLen, headerLen+len(payload)+1)
	buf[0] = START_BYTE
	buf[1] = protocol
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(payload)))
	buf = append(buf, payload...)
	return append(buf, END_BYTE)
}

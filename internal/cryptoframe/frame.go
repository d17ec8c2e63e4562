package cryptoframe

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"encoding/binary"
	"encoding/json"
	"io"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
)

const (
	headerSize = 10 // device_id(4) + seq(2) + timestamp(4)
)

// Frame is a decoded ASP frame: identity, ordering, and a JSON payload.
type Frame struct {
	DeviceID  uint32
	Seq       uint16
	Timestamp uint32
	Payload   map[string]interface{}
}

// Encode serializes payload as canonical JSON, zlib-compresses it, encrypts
// it, and wraps it in the header+MAC envelope described in §6.
func Encode(payload map[string]interface{}, deviceID uint32, seq uint16, aesKey, hmacKey []byte, when time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, benchrors.Frame("marshal payload", err)
	}

	var compressed bytes.Buffer
	w, err := zlib.NewWriterLevel(&compressed, zlib.DefaultCompression)
	if err != nil {
		return nil, benchrors.Frame("new zlib writer", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, benchrors.Frame("compress payload", err)
	}
	if err := w.Close(); err != nil {
		return nil, benchrors.Frame("close zlib writer", err)
	}

	ciphertext, err := Encrypt(compressed.Bytes(), aesKey)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], deviceID)
	binary.BigEndian.PutUint16(header[4:6], seq)
	binary.BigEndian.PutUint32(header[6:10], uint32(when.Unix()))

	body := make([]byte, 0, headerSize+len(ciphertext))
	body = append(body, header...)
	body = append(body, ciphertext...)

	tag := MAC(body, hmacKey)
	frame := make([]byte, 0, len(body)+macSize)
	frame = append(frame, body...)
	frame = append(frame, tag...)
	return frame, nil
}

// Decode reverses Encode, verifying the MAC before decrypting anything.
func Decode(frame, aesKey, hmacKey []byte) (*Frame, error) {
	minLen := headerSize + ivSize + aes.BlockSize + macSize
	if len(frame) < minLen {
		return nil, benchrors.Frame("decode", nil).WithDetail("reason", "frame too short")
	}

	body := frame[:len(frame)-macSize]
	tag := frame[len(frame)-macSize:]
	if !Verify(body, tag, hmacKey) {
		return nil, benchrors.Frame("decode", nil).WithDetail("reason", "MAC verification failed")
	}

	header := body[:headerSize]
	ciphertext := body[headerSize:]

	plaintext, err := Decrypt(ciphertext, aesKey)
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(plaintext))
	if err != nil {
		return nil, benchrors.Frame("decompress payload", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, benchrors.Frame("decompress payload", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, benchrors.Frame("unmarshal payload", err)
	}

	return &Frame{
		DeviceID:  binary.BigEndian.Uint32(header[0:4]),
		Seq:       binary.BigEndian.Uint16(header[4:6]),
		Timestamp: binary.BigEndian.Uint32(header[6:10]),
		Payload:   payload,
	}, nil
}

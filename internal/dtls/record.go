// Package dtls implements just enough of DTLS 1.2 to dial an LWM2M Device
// Management server over TLS_PSK_WITH_AES_128_CCM_8, the cipher suite OMA
// mandates every LWM2M client support.
//
// OMA-TS-LightweightM2M-V1_0_2-20180209-A §7.1.7 Pre-Shared Keys.
// RFC 6347 (DTLS 1.2), RFC 6655 (PSK-based AES-CCM cipher suites).
//
// Handshake retransmission, message reordering, and fragmentation are
// deliberately unsupported, matching the constrained-device assumptions of
// a client that owns a single outstanding exchange with its server.
//
// Grounded on _examples/1stship-inventoryd/dtls.go and dtls_handshake.go.
package dtls

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	version          uint16        = 0xfefd // DTLS 1.2
	cipherSuitePSK   uint16        = 0xc0a8 // TLS_PSK_WITH_AES_128_CCM_8
	compressionNone  byte          = 0x00
	packetSize       int           = 1024
	handshakeTimeout time.Duration = 5 * time.Second

	aesCCMMacLength byte = 8 // RFC 6655 §4: 8-octet authentication tag ("_8" suite).
	aesCCMLLength   byte = 3 // Number of octets in the CCM length field.
)

// Record content types (RFC 5246 §A.1; shared with TLS 1.2, not restated in
// RFC 6347).
const (
	contentTypeChangeCipherSpec byte = 20
	contentTypeHandshake        byte = 22
	contentTypeApplicationData  byte = 23
)

// packet is one DTLS record (RFC 6347 §4.1).
type packet struct {
	contentType byte
	epoch       uint16
	sequence    uint64
	content     []byte
}

func (p *packet) marshal() []byte {
	buf := make([]byte, 13)
	buf[0] = p.contentType
	binary.BigEndian.PutUint16(buf[1:3], version)
	binary.BigEndian.PutUint64(buf[3:11], p.sequence)
	binary.BigEndian.PutUint16(buf[3:5], p.epoch)
	binary.BigEndian.PutUint16(buf[11:13], uint16(len(p.content)))
	return append(buf, p.content...)
}

// length is the 13-byte record header plus the current content length. For a
// record parsed while the server is encrypting, content is the decrypted
// plaintext, so this is smaller than the record's on-wire size.
func (p *packet) length() uint16 {
	return uint16(len(p.content)) + 13
}

// Session is a net.Conn that speaks DTLS-PSK over an underlying UDP socket.
// It satisfies net.Conn so internal/coap.Conn can sit on top of it exactly
// as it would a plain UDP socket.
type Session struct {
	udp net.Conn
	hs  *handshakeState

	serverEpoch, clientEpoch       uint16
	serverSequence, clientSequence uint64
	serverWriteKey, clientWriteKey []byte
	serverIV, clientIV             []byte
	clientEncrypting, serverEncrypting bool

	log *logrus.Entry
}

// Dial opens a UDP socket to host and performs the DTLS-PSK handshake using
// identity/psk, per RFC 4279. A handshake that does not complete within
// handshakeTimeout fails.
func Dial(host string, identity, psk []byte) (*Session, error) {
	udp, err := net.Dial("udp", host)
	if err != nil {
		return nil, err
	}

	s := &Session{
		udp: udp,
		hs: &handshakeState{
			identity:        identity,
			preMasterSecret: preMasterSecretFromPSK(psk),
			clientRandom:    clientRandom(),
		},
		log: logrus.WithField("component", "dtls"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.handshake() }()

	select {
	case <-ctx.Done():
		udp.Close()
		return nil, errors.New("dtls handshake timed out")
	case err := <-result:
		if err != nil {
			udp.Close()
			return nil, err
		}
		return s, nil
	}
}

// Read implements net.Conn by decrypting one application-data record.
func (s *Session) Read(data []byte) (int, error) {
	buf := make([]byte, packetSize)
	n, err := s.udp.Read(buf)
	if err != nil {
		return 0, err
	}
	p, ok := s.parsePacket(buf[:n])
	if !ok {
		return 0, errors.New("malformed dtls record")
	}
	copy(data, p.content)
	return len(p.content), nil
}

// Write implements net.Conn by encrypting data as one application-data
// record.
func (s *Session) Write(data []byte) (int, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	p := &packet{contentType: contentTypeApplicationData, epoch: s.clientEpoch, sequence: s.clientSequence}
	p.content = s.encrypt(buf, p.contentType)
	if _, err := s.udp.Write(p.marshal()); err != nil {
		return 0, err
	}
	s.clientSequence++
	return len(buf), nil
}

func (s *Session) Close() error                       { return s.udp.Close() }
func (s *Session) LocalAddr() net.Addr                { return s.udp.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr               { return s.udp.RemoteAddr() }
func (s *Session) SetDeadline(t time.Time) error       { return s.udp.SetDeadline(t) }
func (s *Session) SetReadDeadline(t time.Time) error   { return s.udp.SetReadDeadline(t) }
func (s *Session) SetWriteDeadline(t time.Time) error  { return s.udp.SetWriteDeadline(t) }

// encrypt seals data with AES-128-CCM-8 (RFC 3610 / RFC 6655 §4).
func (s *Session) encrypt(data []byte, contentType byte) []byte {
	epochSeq := make([]byte, 8)
	binary.BigEndian.PutUint64(epochSeq, s.clientSequence)
	binary.BigEndian.PutUint16(epochSeq[0:2], s.clientEpoch)

	aad := generateAAD(epochSeq, contentType, uint16(len(data)))
	nonce := generateNonce(s.clientIV, epochSeq)
	padding := (aes.BlockSize - (len(data) % aes.BlockSize)) % aes.BlockSize
	padded := append(append([]byte{}, data...), make([]byte, padding)...)
	mac := generateMAC(aad, nonce, uint16(len(data)), padded, s.clientWriteKey)

	plainText := append(mac, padded...)
	block, err := aes.NewCipher(s.clientWriteKey)
	if err != nil {
		s.log.WithError(err).Error("failed to init AES cipher for encrypt")
		return nil
	}
	counterIV := make([]byte, aes.BlockSize)
	counterIV[0] = aesCCMLLength - 1
	copy(counterIV[1:13], nonce)

	cipherText := make([]byte, len(plainText))
	cipher.NewCTR(block, counterIV).XORKeyStream(cipherText, plainText)
	encryptedMac := cipherText[0:aesCCMMacLength]
	encryptedData := cipherText[aes.BlockSize : aes.BlockSize+len(data)]

	ret := make([]byte, len(epochSeq)+len(data)+int(aesCCMMacLength))
	copy(ret, epochSeq)
	copy(ret[len(epochSeq):], encryptedData)
	copy(ret[len(epochSeq)+len(data):], encryptedMac)
	return ret
}

// decrypt verifies and opens an AES-128-CCM-8 sealed record.
func (s *Session) decrypt(data []byte, contentType byte) ([]byte, bool) {
	epochSeq := data[0:8]
	encryptedData := data[8 : len(data)-int(aesCCMMacLength)]
	encryptedMAC := data[len(data)-int(aesCCMMacLength):]

	padding := (aes.BlockSize - (len(encryptedData) % aes.BlockSize)) % aes.BlockSize
	padded := append(append([]byte{}, encryptedData...), make([]byte, padding)...)
	nonce := generateNonce(s.serverIV, epochSeq)

	cipherText := append(append(append([]byte{}, encryptedMAC...), make([]byte, aes.BlockSize-aesCCMMacLength)...), padded...)
	block, err := aes.NewCipher(s.serverWriteKey)
	if err != nil {
		s.log.WithError(err).Error("failed to init AES cipher for decrypt")
		return nil, false
	}
	counterIV := make([]byte, aes.BlockSize)
	counterIV[0] = aesCCMLLength - 1
	copy(counterIV[1:13], nonce)

	plainText := make([]byte, len(cipherText))
	cipher.NewCTR(block, counterIV).XORKeyStream(plainText, cipherText)
	decryptedMac := plainText[0:aesCCMMacLength]
	decryptedData := plainText[aes.BlockSize : aes.BlockSize+len(encryptedData)]

	aad := generateAAD(epochSeq, contentType, uint16(len(decryptedData)))
	decryptedPadded := append(append([]byte{}, decryptedData...), make([]byte, padding)...)
	expectedMac := generateMAC(aad, nonce, uint16(len(decryptedData)), decryptedPadded, s.serverWriteKey)[0:aesCCMMacLength]

	for i := range decryptedMac {
		if decryptedMac[i] != expectedMac[i] {
			return nil, false
		}
	}
	return decryptedData, true
}

// generateAAD builds the AEAD additional-authenticated-data block (RFC
// 5246 §6.2.3.3), using epoch||sequence in place of TLS's flat seq_num.
func generateAAD(epochSequence []byte, contentType byte, length uint16) []byte {
	ret := make([]byte, 13)
	copy(ret[0:8], epochSequence)
	ret[8] = contentType
	binary.BigEndian.PutUint16(ret[9:11], version)
	binary.BigEndian.PutUint16(ret[11:13], length)
	return ret
}

// generateNonce builds the CCM nonce from the fixed write-IV and the
// per-record epoch||sequence (RFC 6655 §3).
func generateNonce(iv, epochSequence []byte) []byte {
	nonce := make([]byte, 16)
	copy(nonce[0:4], iv)
	copy(nonce[4:16], epochSequence)
	return nonce
}

// generateMAC computes the CBC-MAC used by CCM (RFC 3610 §2.2), using AES's
// CBC mode and keeping only the last block since Go's standard library has
// no standalone CBC-MAC primitive.
func generateMAC(aad, nonce []byte, length uint16, paddedData, key []byte) []byte {
	flag := byte(1<<6) + byte((aesCCMMacLength-2)/2)<<3 + (aesCCMLLength - 1)
	blocks := make([]byte, 2*aes.BlockSize)
	blocks[0] = flag
	copy(blocks[1:13], nonce)
	binary.BigEndian.PutUint16(blocks[14:16], length)
	binary.BigEndian.PutUint16(blocks[16:18], uint16(len(aad)))
	copy(blocks[18:18+len(aad)], aad)
	blocks = append(blocks, paddedData...)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	iv := make([]byte, aes.BlockSize)
	cbc := cipher.NewCBCEncrypter(block, iv)
	cipherText := make([]byte, len(blocks))
	cbc.CryptBlocks(cipherText, blocks)
	return cipherText[len(cipherText)-aes.BlockSize:]
}

// parsePacket decodes one record from raw, decrypting its content once the
// server is encrypting. It changes no session state; callers such as
// readHandshakeMessage react to ChangeCipherSpec records themselves.
func (s *Session) parsePacket(raw []byte) (*packet, bool) {
	if len(raw) < 13 {
		return nil, false
	}
	p := &packet{
		contentType: raw[0],
		epoch:       binary.BigEndian.Uint16(raw[3:5]),
		sequence:    binary.BigEndian.Uint64(append([]byte{0, 0}, raw[5:11]...)),
	}
	contentLength := binary.BigEndian.Uint16(raw[11:13])
	if len(raw) < 13+int(contentLength) {
		return nil, false
	}

	if s.serverEncrypting {
		decrypted, ok := s.decrypt(raw[13:13+contentLength], p.contentType)
		if !ok {
			return nil, false
		}
		p.content = decrypted
	} else {
		p.content = raw[13 : 13+contentLength]
	}
	return p, true
}

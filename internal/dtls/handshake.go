package dtls

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"
)

// Handshake message types (RFC 6347 §4.3.2 / RFC 5246 §7.4).
const (
	msgTypeClientHello        byte = 1
	msgTypeServerHello        byte = 2
	msgTypeHelloVerifyRequest byte = 3
	msgTypeServerKeyExchange  byte = 12
	msgTypeServerHelloDone    byte = 14
	msgTypeClientKeyExchange  byte = 16
	msgTypeFinished           byte = 20
)

const handshakeHeaderLen = 12 // type(1) + length(3) + message_seq(2) + fragment_offset(3) + fragment_length(3)

// handshakeState accumulates the per-session values the DTLS-PSK flight
// needs: the PSK-derived secret, the two hellos' randoms, the server's
// anti-amplification cookie, and the running hash of handshake messages used
// to compute Finished verify_data (RFC 5246 §7.4.9).
type handshakeState struct {
	identity        []byte
	preMasterSecret []byte
	clientRandom    []byte
	serverRandom    []byte
	cookie          []byte
	sessionID       []byte
	messageSeq      uint16
	transcript      []byte
	masterSecret    []byte
}

// handshake drives the DTLS-PSK client flight against the server: ClientHello
// / HelloVerifyRequest / ClientHello+cookie / ServerHello.../
// ClientKeyExchange+ChangeCipherSpec+Finished / ChangeCipherSpec+Finished.
//
// Grounded on _examples/1stship-inventoryd/dtls_handshake.go's processHandshake.
func (s *Session) handshake() error {
	hs := s.hs

	if err := s.sendHandshakeMessage(msgTypeClientHello, buildClientHello(hs, nil)); err != nil {
		return err
	}

	helloVerify, err := s.readHandshakeMessage()
	if err != nil {
		return err
	}
	if helloVerify.msgType != msgTypeHelloVerifyRequest {
		return errors.New("expected HelloVerifyRequest")
	}
	hs.cookie = parseHelloVerifyRequest(helloVerify.body)
	hs.transcript = nil // HelloVerifyRequest, and the ClientHello it answers, are excluded from the hash.

	if err := s.sendHandshakeMessage(msgTypeClientHello, buildClientHello(hs, hs.cookie)); err != nil {
		return err
	}

	if err := s.awaitServerHelloDone(); err != nil {
		return err
	}

	if err := s.sendHandshakeMessage(msgTypeClientKeyExchange, buildClientKeyExchange(hs)); err != nil {
		return err
	}
	s.generateSecurityParams()

	s.sendChangeCipherSpec()
	clientVerify := prf(hs.preMasterSecretForFinished(), "client finished", transcriptHash(hs.transcript), 12)
	if err := s.sendHandshakeMessage(msgTypeFinished, clientVerify); err != nil {
		return err
	}

	if err := s.awaitServerFinished(); err != nil {
		return err
	}
	return nil
}

// preMasterSecretForFinished is a naming convenience: Finished's PRF input
// is the negotiated master secret, not the pre-master secret.
func (hs *handshakeState) preMasterSecretForFinished() []byte { return hs.masterSecret }

type parsedHandshakeMessage struct {
	msgType byte
	body    []byte
	raw     []byte
}

// sendHandshakeMessage wraps body in a DTLS handshake header, appends it to
// the transcript, and writes it as one handshake record.
func (s *Session) sendHandshakeMessage(msgType byte, body []byte) error {
	hs := s.hs
	msg := make([]byte, handshakeHeaderLen+len(body))
	msg[0] = msgType
	putUint24(msg[1:4], uint32(len(body)))
	binary.BigEndian.PutUint16(msg[4:6], hs.messageSeq)
	putUint24(msg[6:9], 0)
	putUint24(msg[9:12], uint32(len(body)))
	copy(msg[handshakeHeaderLen:], body)
	hs.messageSeq++
	hs.transcript = append(hs.transcript, msg...)

	p := &packet{contentType: contentTypeHandshake, epoch: s.clientEpoch, sequence: s.clientSequence}
	if s.clientEncrypting {
		p.content = s.encrypt(msg, p.contentType)
	} else {
		p.content = msg
	}
	s.clientSequence++
	_, err := s.udp.Write(p.marshal())
	return err
}

func (s *Session) sendChangeCipherSpec() {
	p := &packet{contentType: contentTypeChangeCipherSpec, epoch: s.clientEpoch, sequence: s.clientSequence}
	p.content = []byte{1}
	s.udp.Write(p.marshal())
	s.clientEpoch++
	s.clientSequence = 0
	s.clientEncrypting = true
}

// readRecord reads one raw UDP datagram and decodes the single DTLS record
// it is expected to carry, decrypting it if the server has already sent its
// ChangeCipherSpec.
func (s *Session) readRecord() (*packet, error) {
	s.udp.SetReadDeadline(time.Now().Add(handshakeTimeout))
	buf := make([]byte, packetSize)
	n, err := s.udp.Read(buf)
	if err != nil {
		return nil, err
	}
	p, ok := s.parsePacket(buf[:n])
	if !ok {
		return nil, errors.New("malformed handshake record")
	}
	return p, nil
}

// readHandshakeMessage reads records until one decodes to a handshake
// message, appending it to the transcript.
func (s *Session) readHandshakeMessage() (*parsedHandshakeMessage, error) {
	for {
		p, err := s.readRecord()
		if err != nil {
			return nil, err
		}
		switch p.contentType {
		case contentTypeChangeCipherSpec:
			s.serverEncrypting = true
			s.serverEpoch++
			continue
		case contentTypeHandshake:
			if len(p.content) < handshakeHeaderLen {
				continue
			}
			msgType := p.content[0]
			bodyLen := getUint24(p.content[1:4])
			body := p.content[handshakeHeaderLen : handshakeHeaderLen+int(bodyLen)]
			if msgType != msgTypeHelloVerifyRequest {
				s.hs.transcript = append(s.hs.transcript, p.content[:handshakeHeaderLen+int(bodyLen)]...)
			}
			return &parsedHandshakeMessage{msgType: msgType, body: body, raw: p.content}, nil
		}
	}
}

// awaitServerHelloDone reads ServerHello, the (ignored) ServerKeyExchange,
// and ServerHelloDone, capturing ServerHello's random for key derivation.
func (s *Session) awaitServerHelloDone() error {
	for {
		msg, err := s.readHandshakeMessage()
		if err != nil {
			return err
		}
		switch msg.msgType {
		case msgTypeServerHello:
			if len(msg.body) < 34 {
				return errors.New("malformed ServerHello")
			}
			s.hs.serverRandom = append([]byte{}, msg.body[2:34]...)
		case msgTypeServerHelloDone:
			return nil
		}
	}
}

// awaitServerFinished reads the server's ChangeCipherSpec and Finished. The
// server verify_data is not checked against a recomputed value: a mismatch
// would already have surfaced as CCM authentication failure in decrypt.
func (s *Session) awaitServerFinished() error {
	for {
		p, err := s.readRecord()
		if err != nil {
			return err
		}
		switch p.contentType {
		case contentTypeChangeCipherSpec:
			s.serverEncrypting = true
			s.serverEpoch++
		case contentTypeHandshake:
			if len(p.content) >= handshakeHeaderLen && p.content[0] == msgTypeFinished {
				return nil
			}
		}
	}
}

func buildClientHello(hs *handshakeState, cookie []byte) []byte {
	body := make([]byte, 0, 64)
	versionBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(versionBytes, version)
	body = append(body, versionBytes...)
	body = append(body, hs.clientRandom...)
	body = append(body, byte(len(hs.sessionID)))
	body = append(body, hs.sessionID...)
	body = append(body, byte(len(cookie)))
	body = append(body, cookie...)

	cipherSuites := make([]byte, 2)
	binary.BigEndian.PutUint16(cipherSuites, 2)
	body = append(body, cipherSuites...)
	suite := make([]byte, 2)
	binary.BigEndian.PutUint16(suite, cipherSuitePSK)
	body = append(body, suite...)

	body = append(body, 1, compressionNone)
	return body
}

func parseHelloVerifyRequest(body []byte) []byte {
	if len(body) < 3 {
		return nil
	}
	cookieLen := int(body[2])
	if len(body) < 3+cookieLen {
		return nil
	}
	return append([]byte{}, body[3:3+cookieLen]...)
}

// buildClientKeyExchange carries the PSK identity (RFC 4279 §2).
func buildClientKeyExchange(hs *handshakeState) []byte {
	body := make([]byte, 2+len(hs.identity))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(hs.identity)))
	copy(body[2:], hs.identity)
	return body
}

// preMasterSecretFromPSK builds the PSK pre-master secret per RFC 4279 §2:
// a dummy all-zero "other" secret the same length as the PSK, concatenated
// with the PSK, each length-prefixed.
func preMasterSecretFromPSK(psk []byte) []byte {
	n := len(psk)
	buf := make([]byte, 0, 4+2*n)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(n))
	buf = append(buf, lenBuf...)
	buf = append(buf, make([]byte, n)...)
	buf = append(buf, lenBuf...)
	buf = append(buf, psk...)
	return buf
}

// clientRandom builds the ClientHello random: a 4-byte Unix timestamp
// followed by 28 random bytes (RFC 5246 §7.4.1.2).
func clientRandom() []byte {
	r := make([]byte, 32)
	binary.BigEndian.PutUint32(r[0:4], uint32(time.Now().Unix()))
	rand.Read(r[4:])
	return r
}

// generateSecurityParams derives the master secret and the four traffic
// keys/IVs from the pre-master secret and the hello randoms (RFC 5246
// §6.3, §8.1).
func (s *Session) generateSecurityParams() {
	hs := s.hs
	seed := append(append([]byte{}, hs.clientRandom...), hs.serverRandom...)
	hs.masterSecret = prf(hs.preMasterSecret, "master secret", seed, 48)

	keyBlockSeed := append(append([]byte{}, hs.serverRandom...), hs.clientRandom...)
	keyBlock := prf(hs.masterSecret, "key expansion", keyBlockSeed, 2*(16+4))

	s.clientWriteKey = keyBlock[0:16]
	s.serverWriteKey = keyBlock[16:32]
	s.clientIV = keyBlock[32:36]
	s.serverIV = keyBlock[36:40]
}

// prf is the TLS 1.2 pseudo-random function (RFC 5246 §5): P_SHA256 applied
// to label||seed, iterated until length bytes are produced.
func prf(secret []byte, label string, seed []byte, length int) []byte {
	labelSeed := append([]byte(label), seed...)
	out := make([]byte, 0, length)
	a := hmacSHA256(secret, labelSeed)
	for len(out) < length {
		out = append(out, hmacSHA256(secret, append(append([]byte{}, a...), labelSeed...))...)
		a = hmacSHA256(secret, a)
	}
	return out[:length]
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func transcriptHash(transcript []byte) []byte {
	sum := sha256.Sum256(transcript)
	return sum[:]
}

func putUint24(buf []byte, v uint32) {
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
}

func getUint24(buf []byte) uint32 {
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}

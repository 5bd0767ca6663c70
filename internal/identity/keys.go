package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSignature — любое несовпадение, включая битые или усеченные байты подписи.
	ErrInvalidSignature = errors.New("identity: invalid signature")
	// ErrBadPublicKey — ключ из записи Directory не удалось распарсить.
	ErrBadPublicKey = errors.New("identity: bad public key")
)

// ParsePublicKey принимает ключ в том виде, в котором его хранит Directory:
// PEM (SubjectPublicKeyInfo) либо base64 от 32 сырых байт Ed25519.
func ParsePublicKey(data string) (ed25519.PublicKey, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: empty key data", ErrBadPublicKey)
	}

	if strings.Contains(data, "-----BEGIN") {
		block, _ := pem.Decode([]byte(data))
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block", ErrBadPublicKey)
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
		pub, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an Ed25519 key", ErrBadPublicKey)
		}
		return pub, nil
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrBadPublicKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature проверяет отсоединенную base64-подпись над каноническими байтами.
// Чистая функция без побочных эффектов.
func VerifySignature(canonical []byte, signatureB64 string, pub ed25519.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: base64: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return ErrInvalidSignature
	}
	return nil
}

package wsrpc

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Identity is a process-local key pair used to fingerprint a wsrpc endpoint,
// the same role the teacher's GenerateKey/FingerprintKey pair plays for its
// SSH control channel (share/ssh.go) -- minted once per listener/dialer and
// logged so operators can cross-check they reached the zone they expected.
// Unlike the teacher, this runtime does not multiplex an SSH session over
// the connection; the key pair only identifies the endpoint in logs.
type Identity struct {
	signer ssh.Signer
}

// NewIdentity generates a fresh ED25519 key pair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wsrpc: generating identity key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("wsrpc: wrapping identity key: %w", err)
	}
	_ = pub
	return &Identity{signer: signer}, nil
}

// Fingerprint returns the standard SSH SHA256 fingerprint of the identity's
// public key, suitable for logging or out-of-band comparison.
func (id *Identity) Fingerprint() string {
	return ssh.FingerprintSHA256(id.signer.PublicKey())
}

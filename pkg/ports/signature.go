package ports

import (
	"context"
	"fmt"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/shardfabric/dancore/pkg/types"
)

// Ed25519SignatureService is the default SignatureService, backed by
// cometbft's ed25519 implementation. It is the only concrete port
// implementation under pkg; cmd/validatord supplies local stand-ins for
// the other ports, and a real deployment satisfies them with
// collaborators outside the core's scope.
type Ed25519SignatureService struct {
	priv cmted25519.PrivKey
	pub  types.PublicKey
}

// NewEd25519SignatureService wraps a raw 64-byte ed25519 private key.
func NewEd25519SignatureService(priv cmted25519.PrivKey) *Ed25519SignatureService {
	pub := priv.PubKey().Bytes()
	return &Ed25519SignatureService{priv: priv, pub: types.PublicKey(pub)}
}

// GenerateEd25519SignatureService creates a service around a freshly
// generated key pair, for tests and local development.
func GenerateEd25519SignatureService() *Ed25519SignatureService {
	return NewEd25519SignatureService(cmted25519.GenPrivKey())
}

func (s *Ed25519SignatureService) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := s.priv.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("ed25519 sign: %w", err)
	}
	return sig, nil
}

func (s *Ed25519SignatureService) Verify(pk types.PublicKey, msg []byte, sig []byte) bool {
	pub := cmted25519.PubKey(pk)
	return pub.VerifySignature(msg, sig)
}

func (s *Ed25519SignatureService) PublicKey() types.PublicKey {
	return s.pub
}

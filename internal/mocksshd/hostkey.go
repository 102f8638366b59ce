package mocksshd

import (
	"crypto/rand"
	"crypto/rsa"

	"golang.org/x/crypto/ssh"
)

// generateHostKey produces a throwaway RSA host key; the mock server never
// persists one to disk the way the original's SERVER_KEY_PATH fixture does,
// since every test run gets its own ephemeral server instance.
func generateHostKey() (ssh.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// Package access decides which downloads need the vault password.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters
const (
	memory      = 64 * 1024
	iterations  = 3
	parallelism = 2
	saltLength  = 16
	keyLength   = 32
)

// SensitiveExtensions need the password before a token is issued, when one is configured.
var SensitiveExtensions = []string{".key", ".pem", ".pfx", ".p12", ".doc", ".docx", ".pdf"}

// Gate holds the configured credentials. Passwords are only kept as argon2id hashes.
type Gate struct {
	username     string
	salt         []byte
	passwordHash []byte // nil when no password is configured
	sensitive    []string
}

// NewGate hashes password. An empty password disables every password requirement.
func NewGate(username, password string) (*Gate, error) {
	g := &Gate{
		username:  username,
		sensitive: SensitiveExtensions,
	}
	if password == "" {
		return g, nil
	}
	g.salt = make([]byte, saltLength)
	if _, err := rand.Read(g.salt); err != nil {
		return nil, err
	}
	g.passwordHash = hash(password, g.salt)
	return g, nil
}

func hash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLength)
}

// PasswordConfigured reports whether a password was set.
func (g *Gate) PasswordConfigured() bool {
	return g.passwordHash != nil
}

// CheckPassword compares attempt in constant time. Without a configured password every attempt passes.
func (g *Gate) CheckPassword(attempt string) bool {
	if !g.PasswordConfigured() {
		return true
	}
	return subtle.ConstantTimeCompare(hash(attempt, g.salt), g.passwordHash) == 1
}

// IsSensitive reports whether filePath has a sensitive extension.
func (g *Gate) IsSensitive(filePath string) bool {
	return slices.Contains(g.sensitive, strings.ToLower(filepath.Ext(filePath)))
}

// RequiresPassword is true for sensitive files when a password is configured.
func (g *Gate) RequiresPassword(filePath string) bool {
	return g.PasswordConfigured() && g.IsSensitive(filePath)
}

// Authenticate is the static login check used by the UI. With no username configured,
// only the password is compared; with neither configured, login always succeeds.
func (g *Gate) Authenticate(username, password string) bool {
	userOK := g.username == "" || subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := g.CheckPassword(password)
	return userOK && passOK
}

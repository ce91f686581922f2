package coinbase

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"
)

// jwtTTL is how long a request token stays valid. Coinbase rejects
// tokens living longer than two minutes.
const jwtTTL = 120 * time.Second

// parsePrivateKey loads the EC private key from its PEM encoding.
// Coinbase issues keys in SEC1 form; PKCS#8 is accepted as well since
// some tooling rewraps them.
func parsePrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an EC key")
	}
	return key, nil
}

// buildJWT signs a per-request ES256 token. The uri claim binds the
// token to one method and path, so tokens cannot be replayed against
// other endpoints.
func buildJWT(key *ecdsa.PrivateKey, keyName, method, path string, now time.Time) (string, error) {
	header := map[string]string{
		"alg":   "ES256",
		"typ":   "JWT",
		"kid":   keyName,
		"nonce": strconv.FormatInt(now.Unix(), 10),
	}
	claims := map[string]interface{}{
		"sub": keyName,
		"iss": "coinbase-cloud",
		"nbf": now.Unix(),
		"exp": now.Add(jwtTTL).Unix(),
		"uri": fmt.Sprintf("%s %s%s", method, apiHost, path),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to encode JWT header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode JWT claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	// ES256 signatures are the raw r||s pair, each padded to 32 bytes.
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + enc.EncodeToString(sig), nil
}

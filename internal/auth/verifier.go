package auth

import (
	"encoding/hex"
	"errors"
	"time"

	"aidanwoods.dev/go-paseto"
)

var (
	// ErrInvalidKey — ключ не является hex-кодированным 32-байтным ключом.
	ErrInvalidKey = errors.New("auth: invalid symmetric key")
	// ErrInvalidToken — токен не прошёл проверку подписи или срока действия.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier проверяет PASETO v4 local токены.
type Verifier struct {
	key    paseto.V4SymmetricKey
	parser paseto.Parser
}

// NewVerifier создаёт Verifier. keyHex — hex-кодированный 32-байтный
// симметричный ключ, общий для identity-сервиса и проверяющих сервисов.
func NewVerifier(keyHex string) (*Verifier, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Verifier{
		key:    key,
		parser: paseto.NewParser(),
	}, nil
}

// Verify проверяет токен и возвращает типизированные claims.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	token, err := v.parser.ParseV4Local(v.key, tokenString, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	subject, err := token.GetSubject()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	username, _ := token.GetString("username")
	var roles []string
	_ = token.Get("roles", &roles)

	return NewClaims(subject, username, roles), nil
}

// Issue выпускает токен для пользователя. Используется identity-частью
// и тестами; сервисы саги только проверяют токены.
func (v *Verifier) Issue(userID, username string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := paseto.NewToken()
	token.SetSubject(userID)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(ttl))
	token.SetString("username", username)
	if err := token.Set("roles", roles); err != nil {
		return "", err
	}
	return token.V4Encrypt(v.key, nil), nil
}

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"Swapper-Chain/pkg/logger"
)

// HeaderAPIKey is the request header carrying the API key. A bearer token in
// the Authorization header is accepted as well.
const HeaderAPIKey = "X-API-Key"

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service authenticates API callers by key.
type Service struct {
	credentials []credential
	audit       *slog.Logger
}

// NewService builds the key catalogue. With no keys the service is disabled
// and every request passes through unauthenticated.
func NewService(keys []APIKey) (*Service, error) {
	svc := &Service{audit: logger.Audit()}
	names := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		name := strings.TrimSpace(key.Name)
		secret := strings.TrimSpace(key.Key)
		if name == "" || secret == "" {
			return nil, errors.New("api key 需要 name 与 key")
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("重复的调用方 %s", name)
		}
		names[name] = struct{}{}
		subject := &Subject{Name: name, Permissions: append([]string(nil), key.Permissions...)}
		subject.normalise()
		svc.credentials = append(svc.credentials, credential{
			digest:  sha256.Sum256([]byte(secret)),
			subject: subject,
		})
	}
	return svc, nil
}

// Enabled reports whether requests must carry a key.
func (s *Service) Enabled() bool {
	return s != nil && len(s.credentials) > 0
}

// AuthenticateRequest resolves the caller of r.
func (s *Service) AuthenticateRequest(r *http.Request) (*Subject, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if key == "" {
		if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			key = strings.TrimSpace(authz[7:])
		}
	}
	if key == "" {
		return nil, ErrMissingKey
	}
	return s.Authenticate(key)
}

// Authenticate resolves the caller owning key. Every credential is compared
// so the lookup time does not depend on which key matched.
func (s *Service) Authenticate(key string) (*Subject, error) {
	digest := sha256.Sum256([]byte(key))
	var match *Subject
	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], cred.digest[:]) == 1 {
			match = cred.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidKey
	}
	return match.Clone(), nil
}

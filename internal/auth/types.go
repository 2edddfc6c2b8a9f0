package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingKey       = errors.New("missing api key")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions checked by the HTTP API. "*" grants all of them.
const (
	PermissionAll        = "*"
	PermissionSwapsWrite = "swaps:write"
	PermissionSwapsRead  = "swaps:read"
	PermissionQuotesRead = "quotes:read"
)

// APIKey binds a secret to a named caller.
type APIKey struct {
	Name        string
	Key         string
	Permissions []string
}

// Subject is the authenticated caller passed to request handlers via context.
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidKey
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone returns a copy that does not share the permission slice.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Name:        s.Name,
		Permissions: append([]string(nil), s.Permissions...),
	}
	clone.normalise()
	return clone
}

package peers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJID is returned when a string is not of the form local@domain.
var ErrInvalidJID = errors.New("invalid jid")

// JID identifies a node in the fleet. It is a domain-qualified name of the form
// local@domain, optionally followed by /resource. JIDs are compared as plain
// strings; use Bare to drop the resource before comparing.
type JID string

// NewJID assembles a bare JID from its local part and domain.
func NewJID(local, domain string) JID {
	return JID(local + "@" + domain)
}

// ParseJID validates s and returns the corresponding JID.
func ParseJID(s string) (JID, error) {
	s = strings.TrimSpace(s)
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidJID, s)
	}
	domain := s[at+1:]
	if slash := strings.Index(domain, "/"); slash == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidJID, s)
	}
	if strings.Contains(domain, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidJID, s)
	}
	return JID(s), nil
}

// Local returns the part before the '@'.
func (j JID) Local() string {
	s := string(j)
	if at := strings.Index(s, "@"); at >= 0 {
		return s[:at]
	}
	return s
}

// Domain returns the part between the '@' and the optional '/'.
func (j JID) Domain() string {
	s := string(j)
	at := strings.Index(s, "@")
	if at < 0 {
		return ""
	}
	s = s[at+1:]
	if slash := strings.Index(s, "/"); slash >= 0 {
		return s[:slash]
	}
	return s
}

// Resource returns the part after the '/', if any.
func (j JID) Resource() string {
	s := string(j)
	at := strings.Index(s, "@")
	if at < 0 {
		return ""
	}
	if slash := strings.Index(s[at:], "/"); slash >= 0 {
		return s[at+slash+1:]
	}
	return ""
}

// Bare returns the JID without its resource.
func (j JID) Bare() JID {
	if r := j.Resource(); r != "" {
		return j[:len(j)-len(r)-1]
	}
	return j
}

// String implements fmt.Stringer.
func (j JID) String() string {
	return string(j)
}

package source

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// Kind discriminates the two source variants.
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

// ErrInvalidDescriptor wraps every descriptor parse failure.
var ErrInvalidDescriptor = errors.New("invalid source descriptor")

// Descriptor identifies a log source. Immutable once parsed.
// Local descriptors carry only Path; remote ones add User, Host, Port.
type Descriptor struct {
	Kind Kind
	Path string
	User string
	Host string
	Port int
}

// IsRemote reports whether the descriptor targets an SSH source.
func (d Descriptor) IsRemote() bool {
	return d.Kind == KindRemote
}

// PoolKey returns the connection pool key for a remote descriptor.
func (d Descriptor) PoolKey() string {
	return fmt.Sprintf("%s@%s:%d", d.User, d.Host, d.Port)
}

func (d Descriptor) String() string {
	if d.Kind == KindLocal {
		return d.Path
	}
	if d.Port != DefaultSSHPort {
		return fmt.Sprintf("%s@%s:%d:%s", d.User, d.Host, d.Port, d.Path)
	}
	return fmt.Sprintf("%s@%s:%s", d.User, d.Host, d.Path)
}

// DefaultSSHPort is used when a remote spec omits the port.
const DefaultSSHPort = 22

const (
	maxUserLength = 64
	maxHostLength = 253
	maxPathLength = 4096
)

// scpLikeRe matches user@host:/path and user@host:port:/path.
var scpLikeRe = regexp.MustCompile(`^([A-Za-z0-9._-]+)@([A-Za-z0-9.-]+):(?:(\d{1,5}):)?(/.*)$`)

// windowsPathRe keeps drive-letter paths out of the remote branch.
var windowsPathRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// IsRemoteSpec reports whether spec looks like an SSH source string.
func IsRemoteSpec(spec string) bool {
	if windowsPathRe.MatchString(spec) {
		return false
	}
	if len(spec) > 6 && spec[:6] == "ssh://" {
		return true
	}
	return scpLikeRe.MatchString(spec)
}

// Parse turns a descriptor string into a Descriptor. Accepted remote forms:
// user@host:/path, user@host:port:/path, ssh://user@host:port/path.
// Anything else is a local filesystem path.
func Parse(spec string) (Descriptor, error) {
	if spec == "" {
		return Descriptor{}, fmt.Errorf("%w: empty", ErrInvalidDescriptor)
	}
	if !IsRemoteSpec(spec) {
		return Descriptor{Kind: KindLocal, Path: spec}, nil
	}

	var d Descriptor
	if len(spec) > 6 && spec[:6] == "ssh://" {
		u, err := url.Parse(spec)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		port := DefaultSSHPort
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return Descriptor{}, fmt.Errorf("%w: bad port %q", ErrInvalidDescriptor, p)
			}
		}
		d = Descriptor{
			Kind: KindRemote,
			User: u.User.Username(),
			Host: u.Hostname(),
			Port: port,
			Path: u.Path,
		}
	} else {
		m := scpLikeRe.FindStringSubmatch(spec)
		port := DefaultSSHPort
		if m[3] != "" {
			var err error
			port, err = strconv.Atoi(m[3])
			if err != nil {
				return Descriptor{}, fmt.Errorf("%w: bad port %q", ErrInvalidDescriptor, m[3])
			}
		}
		d = Descriptor{Kind: KindRemote, User: m[1], Host: m[2], Port: port, Path: m[4]}
	}

	if err := d.validateRemote(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func (d Descriptor) validateRemote() error {
	switch {
	case d.User == "" || len(d.User) > maxUserLength:
		return fmt.Errorf("%w: user %q", ErrInvalidDescriptor, d.User)
	case d.Host == "" || len(d.Host) > maxHostLength:
		return fmt.Errorf("%w: host %q", ErrInvalidDescriptor, d.Host)
	case d.Port < 1 || d.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	case d.Path == "" || d.Path[0] != '/':
		return fmt.Errorf("%w: remote path must be absolute", ErrInvalidDescriptor)
	case len(d.Path) > maxPathLength:
		return fmt.Errorf("%w: remote path too long", ErrInvalidDescriptor)
	}
	return nil
}

package engine

import (
	"fmt"
	"time"

	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// Value limits enforced by the typed views.
const (
	NameMaxLength        = 100
	DescriptionMaxLength = 2000
	PicKeySize           = 32
)

// Field keys shared by the views.
const (
	keyName        = "n"
	keyDescription = "o"
	keyPicURL      = "p"
	keyPicKey      = "q"
	keyExpiry      = "E"
	keyCreated     = "c"
)

// View is a typed accessor over one namespace. The set of views is
// closed: UserProfile and GroupInfo.
type View interface {
	Handle() *Handle
	view()
}

// ViewOf returns the typed view for h's namespace.
func ViewOf(h *Handle) (View, error) {
	switch h.Namespace() {
	case namespace.UserProfile:
		return UserProfile{h: h}, nil
	case namespace.ClosedGroupInfo:
		return GroupInfo{h: h}, nil
	}
	return nil, fmt.Errorf("no view for %s: %w", h.Namespace(), namespace.ErrNotFound)
}

// Pic is a profile or group picture: where to download it and the key
// that decrypts it.
type Pic struct {
	URL string
	Key []byte
}

// UserProfile is the view over a UserProfile config.
type UserProfile struct{ h *Handle }

// NewUserProfile wraps h, which must be a UserProfile handle.
func NewUserProfile(h *Handle) (UserProfile, error) {
	if h.Namespace() != namespace.UserProfile {
		return UserProfile{}, fmt.Errorf("%s is not a user profile", h.Namespace())
	}
	return UserProfile{h: h}, nil
}

func (UserProfile) view()             {}
func (p UserProfile) Handle() *Handle { return p.h }

// Name returns the display name, or "" when unset.
func (p UserProfile) Name() string { return readString(p.h, keyName) }

// SetName sets the display name. An empty name removes it.
func (p UserProfile) SetName(name string) error { return setName(p.h, name) }

// Pic returns the profile picture. URL and key are either both set or
// both empty.
func (p UserProfile) Pic() Pic { return readPic(p.h) }

// SetPic sets the profile picture. If either the URL or the key is empty,
// both are cleared.
func (p UserProfile) SetPic(pic Pic) error { return setPic(p.h, pic) }

// GroupInfo is the view over a ClosedGroupInfo config.
type GroupInfo struct{ h *Handle }

// NewGroupInfo wraps h, which must be a ClosedGroupInfo handle.
func NewGroupInfo(h *Handle) (GroupInfo, error) {
	if h.Namespace() != namespace.ClosedGroupInfo {
		return GroupInfo{}, fmt.Errorf("%s is not group info", h.Namespace())
	}
	return GroupInfo{h: h}, nil
}

func (GroupInfo) view()             {}
func (g GroupInfo) Handle() *Handle { return g.h }

func (g GroupInfo) Name() string              { return readString(g.h, keyName) }
func (g GroupInfo) SetName(name string) error { return setName(g.h, name) }
func (g GroupInfo) Pic() Pic                  { return readPic(g.h) }
func (g GroupInfo) SetPic(pic Pic) error      { return setPic(g.h, pic) }

// Description returns the group description.
func (g GroupInfo) Description() string { return readString(g.h, keyDescription) }

// SetDescription sets the description. Empty removes it.
func (g GroupInfo) SetDescription(desc string) error {
	if len(desc) > DescriptionMaxLength {
		return fmt.Errorf("%w: description is %d bytes, limit %d", model.ErrBadValue, len(desc), DescriptionMaxLength)
	}
	if desc == "" {
		return g.h.Delete(keyDescription)
	}
	return g.h.Write(keyDescription, model.String(desc))
}

// ExpiryTimer returns the disappearing-message timer; zero when off.
func (g GroupInfo) ExpiryTimer() time.Duration {
	v, ok := g.h.Read(keyExpiry)
	if !ok {
		return 0
	}
	n, _ := v.AsInt()
	return time.Duration(n) * time.Second
}

// SetExpiryTimer sets the disappearing-message timer, truncated to whole
// seconds. Zero turns it off.
func (g GroupInfo) SetExpiryTimer(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative expiry timer", model.ErrBadValue)
	}
	secs := int64(d / time.Second)
	if secs == 0 {
		return g.h.Delete(keyExpiry)
	}
	return g.h.Write(keyExpiry, model.Int(secs))
}

// Created returns when the group was created; the zero time when unset.
func (g GroupInfo) Created() time.Time {
	v, ok := g.h.Read(keyCreated)
	if !ok {
		return time.Time{}
	}
	n, _ := v.AsInt()
	return time.Unix(n, 0).UTC()
}

// SetCreated records the creation time. The zero time removes it.
func (g GroupInfo) SetCreated(t time.Time) error {
	if t.IsZero() {
		return g.h.Delete(keyCreated)
	}
	return g.h.Write(keyCreated, model.Int(t.Unix()))
}

func readString(h *Handle, key string) string {
	v, ok := h.Read(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func setName(h *Handle, name string) error {
	if len(name) > NameMaxLength {
		return fmt.Errorf("%w: name is %d bytes, limit %d", model.ErrBadValue, len(name), NameMaxLength)
	}
	if name == "" {
		return h.Delete(keyName)
	}
	return h.Write(keyName, model.String(name))
}

func readPic(h *Handle) Pic {
	url := readString(h, keyPicURL)
	v, ok := h.Read(keyPicKey)
	if url == "" || !ok {
		return Pic{}
	}
	key, _ := v.AsBlob()
	return Pic{URL: url, Key: key}
}

func setPic(h *Handle, pic Pic) error {
	if pic.URL == "" || len(pic.Key) == 0 {
		return h.apply(edit{key: keyPicURL, delete: true}, edit{key: keyPicKey, delete: true})
	}
	if len(pic.Key) != PicKeySize {
		return fmt.Errorf("%w: pic key is %d bytes, want %d", model.ErrBadValue, len(pic.Key), PicKeySize)
	}
	return h.apply(
		edit{key: keyPicURL, value: model.String(pic.URL)},
		edit{key: keyPicKey, value: model.Blob(pic.Key)},
	)
}

package runtime

import (
	"fmt"
	"strings"
	"sync"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/keychannel"
)

// RegistrationKey identifies a set of listeners interested in the same
// events, such as a mailbox or a user.
type RegistrationKey interface {
	KeyType() string
	AsString() string
}

// RegistrationKeyFactory rebuilds keys of one type from their string value.
type RegistrationKeyFactory interface {
	KeyType() string
	FromString(value string) (RegistrationKey, error)
}

// RoutingKey is the string form of a RegistrationKey as stored in the
// bindings table and carried on the wire.
type RoutingKey string

const routingKeySeparator = ":"

// RoutingKeyConverter maps registration keys to routing keys and back.
type RoutingKeyConverter struct {
	mu        sync.RWMutex
	factories map[string]RegistrationKeyFactory
}

// NewRoutingKeyConverter registers the given factories. Later factories win
// for duplicated key types.
func NewRoutingKeyConverter(factories ...RegistrationKeyFactory) *RoutingKeyConverter {
	c := &RoutingKeyConverter{factories: make(map[string]RegistrationKeyFactory, len(factories))}
	for _, f := range factories {
		c.Register(f)
	}
	return c
}

// DefaultRoutingKeyConverter knows the built-in mailbox and username keys.
func DefaultRoutingKeyConverter() *RoutingKeyConverter {
	return NewRoutingKeyConverter(MailboxIDKeyFactory{}, UsernameKeyFactory{})
}

func (c *RoutingKeyConverter) Register(factory RegistrationKeyFactory) {
	if factory == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[factory.KeyType()] = factory
}

// ToRoutingKey returns "<keyType>:<value>".
func ToRoutingKey(key RegistrationKey) RoutingKey {
	return RoutingKey(key.KeyType() + routingKeySeparator + key.AsString())
}

// routingKeyOf converts key and rejects routing keys that cannot be framed on
// the notification channel.
func routingKeyOf(key RegistrationKey) (RoutingKey, error) {
	if key == nil {
		return "", errspkg.ErrKeyRequired
	}
	routingKey := ToRoutingKey(key)
	if strings.Contains(string(routingKey), keychannel.Delimiter) {
		return "", fmt.Errorf("%w: %q contains %q", errspkg.ErrInvalidKey, routingKey, keychannel.Delimiter)
	}
	return routingKey, nil
}

// ToRegistrationKey splits on the first separator so values may contain it.
func (c *RoutingKeyConverter) ToRegistrationKey(routingKey RoutingKey) (RegistrationKey, error) {
	keyType, value, ok := strings.Cut(string(routingKey), routingKeySeparator)
	if !ok {
		return nil, fmt.Errorf("%w: routing key %q has no type prefix", errspkg.ErrUnknownKeyType, routingKey)
	}

	c.mu.RLock()
	factory, found := c.factories[keyType]
	c.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownKeyType, keyType)
	}
	return factory.FromString(value)
}

const (
	MailboxIDKeyType = "mailbox_id"
	UsernameKeyType  = "username"
)

// MailboxIDRegistrationKey targets listeners of a single mailbox.
type MailboxIDRegistrationKey string

func (k MailboxIDRegistrationKey) KeyType() string  { return MailboxIDKeyType }
func (k MailboxIDRegistrationKey) AsString() string { return string(k) }

type MailboxIDKeyFactory struct{}

func (MailboxIDKeyFactory) KeyType() string { return MailboxIDKeyType }

func (MailboxIDKeyFactory) FromString(value string) (RegistrationKey, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty mailbox id", errspkg.ErrKeyRequired)
	}
	return MailboxIDRegistrationKey(value), nil
}

// UsernameRegistrationKey targets listeners of every mailbox of a user.
type UsernameRegistrationKey string

func (k UsernameRegistrationKey) KeyType() string  { return UsernameKeyType }
func (k UsernameRegistrationKey) AsString() string { return string(k) }

type UsernameKeyFactory struct{}

func (UsernameKeyFactory) KeyType() string { return UsernameKeyType }

func (UsernameKeyFactory) FromString(value string) (RegistrationKey, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty username", errspkg.ErrKeyRequired)
	}
	return UsernameRegistrationKey(value), nil
}

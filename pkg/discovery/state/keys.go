package state

import (
	"fmt"
	"strings"
)

// TraceID and SpanID are opaque identifiers sourced from the trace store.
type TraceID string

type SpanID string

// OperationName identifies an operation within a service.
type OperationName string

// ServiceKey is the natural key of a service: its name plus the optional
// service.namespace and service.instance.id resource attributes. Empty
// strings stand for absent attributes.
type ServiceKey struct {
	Namespace  string
	Name       string
	InstanceID string
}

// MarshalText encodes the key as "namespace/name instance" with the optional
// parts omitted, so the key can be used directly as a JSON map key.
func (k ServiceKey) MarshalText() ([]byte, error) {
	if k.Name == "" {
		return nil, fmt.Errorf("service key has no name")
	}
	var b strings.Builder
	if k.Namespace != "" {
		b.WriteString(k.Namespace)
		b.WriteByte('/')
	}
	b.WriteString(k.Name)
	if k.InstanceID != "" {
		b.WriteByte(' ')
		b.WriteString(k.InstanceID)
	}
	return []byte(b.String()), nil
}

func (k *ServiceKey) UnmarshalText(text []byte) error {
	s := string(text)
	if ns, rest, found := strings.Cut(s, "/"); found {
		k.Namespace = ns
		s = rest
	} else {
		k.Namespace = ""
	}
	if name, instance, found := strings.Cut(s, " "); found {
		k.Name = name
		k.InstanceID = instance
	} else {
		k.Name = s
		k.InstanceID = ""
	}
	if k.Name == "" {
		return fmt.Errorf("service key %q has no name", text)
	}
	return nil
}

func (k ServiceKey) String() string {
	text, err := k.MarshalText()
	if err != nil {
		return ""
	}
	return string(text)
}

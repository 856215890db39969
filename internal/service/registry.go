package service

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/protocol"
)

// ZoneIdentity is a trusted zone published in the registry file.
type ZoneIdentity struct {
	Name      string
	Zone      protocol.ZoneID
	PublicKey ed25519.PublicKey
}

// ZoneRegistry maps zone ids to operator-trusted public keys.
type ZoneRegistry struct {
	byZone map[protocol.ZoneID]ZoneIdentity
}

type registryFile struct {
	Zones []registryEntry `yaml:"zones"`
}

type registryEntry struct {
	Name          string `yaml:"name"`
	Zone          string `yaml:"zone"`
	PublicKey     string `yaml:"public_key"`
	PublicKeyPath string `yaml:"public_key_path"`
}

func LoadZoneRegistry(path string) (*ZoneRegistry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone registry: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("parse zone registry yaml: %w", err)
	}
	if len(file.Zones) == 0 {
		return nil, errors.New("zone registry is empty")
	}
	registry := &ZoneRegistry{byZone: make(map[protocol.ZoneID]ZoneIdentity, len(file.Zones))}
	for i, entry := range file.Zones {
		pubRaw := strings.TrimSpace(entry.PublicKey)
		if entry.PublicKeyPath != "" {
			keyBuf, err := os.ReadFile(entry.PublicKeyPath)
			if err != nil {
				return nil, fmt.Errorf("zone[%d] read public_key_path: %w", i, err)
			}
			pubRaw = string(keyBuf)
		}
		if pubRaw == "" {
			return nil, fmt.Errorf("zone[%d] public_key or public_key_path is required", i)
		}
		pub, err := crypto.ParsePublicKey(pubRaw)
		if err != nil {
			return nil, fmt.Errorf("zone[%d] parse public key: %w", i, err)
		}
		zone := crypto.DeriveZoneID(pub)
		if entry.Zone != "" {
			declared, err := protocol.ParseZoneID(strings.TrimSpace(entry.Zone))
			if err != nil {
				return nil, fmt.Errorf("zone[%d] parse zone: %w", i, err)
			}
			if declared != zone {
				return nil, fmt.Errorf("zone[%d] zone %s does not match public key (derived %s)", i, declared, zone)
			}
		}
		if _, exists := registry.byZone[zone]; exists {
			return nil, fmt.Errorf("duplicate zone in registry: %s", zone)
		}
		registry.byZone[zone] = ZoneIdentity{Name: entry.Name, Zone: zone, PublicKey: pub}
	}
	return registry, nil
}

// NewZoneRegistry builds a registry from already-parsed keys.
func NewZoneRegistry(keys ...ed25519.PublicKey) *ZoneRegistry {
	registry := &ZoneRegistry{byZone: make(map[protocol.ZoneID]ZoneIdentity, len(keys))}
	for _, pub := range keys {
		zone := crypto.DeriveZoneID(pub)
		registry.byZone[zone] = ZoneIdentity{Zone: zone, PublicKey: pub}
	}
	return registry
}

func (r *ZoneRegistry) Lookup(zone protocol.ZoneID) (ZoneIdentity, bool) {
	if r == nil {
		return ZoneIdentity{}, false
	}
	identity, ok := r.byZone[zone]
	return identity, ok
}

func (r *ZoneRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byZone)
}

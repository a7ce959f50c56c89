// Package hass is the Home Assistant REST collaborator: live entity states,
// the entity-existence oracle with alternatives, and the area/device/label
// registry behind a short-TTL single-flight cache.
package hass

import (
	"errors"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no Home Assistant URL is configured.
var ErrNotConfigured = errors.New("home assistant not configured")

// State is one entity as reported by GET /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed,omitempty"`
}

// Domain returns the entity domain ("light" for "light.kitchen").
func (s State) Domain() string {
	return Domain(s.EntityID)
}

// FriendlyName returns the friendly_name attribute, or the object id with
// underscores replaced by spaces.
func (s State) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	_, object, _ := strings.Cut(s.EntityID, ".")
	return strings.ReplaceAll(object, "_", " ")
}

// EntityStatus is the oracle answer for one entity id.
type EntityStatus struct {
	Exists       bool     `json:"exists"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// RegistryEntry is the registry view of one entity: where it lives and
// which labels it carries.
type RegistryEntry struct {
	EntityID string   `json:"entity_id"`
	AreaID   string   `json:"area_id,omitempty"`
	DeviceID string   `json:"device_id,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// Domain returns the part of an entity id before the first dot.
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

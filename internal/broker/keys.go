package broker

import (
	"fmt"
	"strings"

	"github.com/antirek/chatapp-sub000/internal/constants"
)

// Routing keys follow user.{ownerType}.{ownerId}.{eventType}. Event types are
// themselves dot-namespaced, so owner bindings use '#' rather than '*'.

func RoutingKey(ownerType, ownerID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s.%s", constants.RoutingKeyPrefix, ownerType, ownerID, eventType)
}

// OwnerBinding matches every event routed to one owner.
func OwnerBinding(ownerType, ownerID string) string {
	return fmt.Sprintf("%s.%s.%s.#", constants.RoutingKeyPrefix, ownerType, ownerID)
}

// BotBinding matches every event routed to any bot-type owner.
func BotBinding() string {
	return constants.RoutingKeyPrefix + ".bot.#"
}

// AllBinding matches every event on the exchange.
func AllBinding() string {
	return constants.RoutingKeyPrefix + ".#"
}

// OwnerQueue is the deterministic per-owner queue name.
func OwnerQueue(ownerID string) string {
	return constants.OwnerQueuePrefix + ownerID
}

// SplitRoutingKey returns the owner type, owner id and event type of a
// routing key, or empty strings when the key is not of the expected form.
func SplitRoutingKey(key string) (ownerType, ownerID, eventType string) {
	parts := strings.SplitN(key, ".", 4)
	if len(parts) < 4 || parts[0] != constants.RoutingKeyPrefix {
		return "", "", ""
	}
	return parts[1], parts[2], parts[3]
}

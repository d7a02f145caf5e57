package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "graylogic/identity"

// Topics builds the identity service's MQTT topics under a prefix.
//
//	topics := mqtt.NewTopics("graylogic/identity")
//	topics.Event("login")
//	// Returns: "graylogic/identity/event/login"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder. Trailing slashes are trimmed and an
// empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic built by t.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status returns the retained online/offline status topic.
//
// Example: graylogic/identity/status
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Event returns the topic for an identity event of the given type.
//
// Example: graylogic/identity/event/login_failed
func (t Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix, eventType)
}

// UserEvent returns the per-user topic for an identity event, so that
// subscribers can follow one account with graylogic/identity/user/{uuid}/#.
//
// Example: graylogic/identity/user/4f0c.../event/logout
func (t Topics) UserEvent(userID, eventType string) string {
	return fmt.Sprintf("%s/user/%s/event/%s", t.prefix, userID, eventType)
}

// AllEvents returns the wildcard matching every event topic.
//
// Example: graylogic/identity/event/+
func (t Topics) AllEvents() string {
	return t.prefix + "/event/+"
}

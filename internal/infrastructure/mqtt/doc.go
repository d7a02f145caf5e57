// Package mqtt announces identity events on the site MQTT broker.
//
// The client only publishes. It reconnects on its own, and the broker holds
// a retained will so subscribers learn when the service drops off.
//
// # Topics
//
//	graylogic/identity/status                    retained online/offline
//	graylogic/identity/event/{type}              every identity event
//	graylogic/identity/user/{uuid}/event/{type}  events for one account
//
// The prefix comes from mqtt.topic_prefix.
//
// Payloads are audit records: they name the user and the action but never
// hold a password, token or second-factor secret. Enable mqtt.broker.tls
// whenever the broker is not on the loopback interface.
//
// # Usage
//
//	pub, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer pub.Close()
//	err = pub.PublishEvent("login", userID, payload)
package mqtt

// Package mqtt publishes supervisor status to an MQTT broker.
//
// The notifier is optional (mqtt.enabled in config.yaml). When enabled, the
// latest supervisor state transition is published retained so any subscriber
// sees the current worker state immediately, and a Last Will flips the
// status topic to "offline" if the supervisor itself dies.
//
// Publishing is strictly best-effort: a broker outage never stops the
// supervisor from restarting the worker.
package mqtt

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// commandWatchLimit bounds how many recent commands each device watch
// re-reads per push; new commands always land in the top of the
// most-recent-first query.
const commandWatchLimit = 20

// CommandRelay watches each device's command collection in the store and
// publishes newly added, unacked commands to that device's MQTT command
// topic. Delivery is at-least-once; devices dedup on the command id and
// reject stale commands themselves.
type CommandRelay struct {
	client mqtt.Client
	st     store.Store

	commandTopic string // e.g. "shirodhara/{device_id}/commands"
	deviceIDs    []string
	subs         []*store.QuerySub
}

// RelayConfig holds the outbound topic pattern and the devices to serve.
type RelayConfig struct {
	CommandTopic string
	DeviceIDs    []string
}

func NewCommandRelay(client mqtt.Client, st store.Store, config RelayConfig) *CommandRelay {
	return &CommandRelay{
		client:       client,
		st:           st,
		commandTopic: config.CommandTopic,
		deviceIDs:    config.DeviceIDs,
	}
}

// Start opens one command watch per device and begins relaying.
func (r *CommandRelay) Start(ctx context.Context) error {
	for _, deviceID := range r.deviceIDs {
		sub, err := r.st.WatchQuery(ctx, store.DeviceCommandsCollection(deviceID), commandWatchLimit)
		if err != nil {
			r.Stop()
			return fmt.Errorf("command watch for %s: %w", deviceID, err)
		}
		r.subs = append(r.subs, sub)
		go r.relayLoop(deviceID, sub)
		log.Printf("Bridge: relaying commands for device %s", deviceID)
	}
	return nil
}

// Stop cancels all command watches.
func (r *CommandRelay) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}

func (r *CommandRelay) relayLoop(deviceID string, sub *store.QuerySub) {
	for snap := range sub.C {
		for _, doc := range snap.Added {
			cmd := models.CommandFromDoc(doc)
			if cmd.Cmd == "" || cmd.Ack {
				continue
			}
			if err := r.publish(deviceID, cmd); err != nil {
				log.Printf("Bridge: relay %s to %s: %v", cmd.Cmd, deviceID, err)
			}
		}
	}
}

func (r *CommandRelay) publish(deviceID string, cmd *models.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	topic := formatTopic(r.commandTopic, deviceID)
	token := r.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish command: %w", token.Error())
	}
	log.Printf("Bridge: published %s command %s to %s", cmd.Cmd, cmd.CommandID, topic)
	return nil
}

// formatTopic substitutes the device id into a topic pattern.
func formatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}

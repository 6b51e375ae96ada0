package ws

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"group-speedrun/server/internal/telemetry"
)

const maxMessageBytes = 4096

// Commands is the inbound surface a session dispatches into. The hub
// implements it.
type Commands interface {
	UpdatePosition(id, region string, x, z float64)
	Heartbeat(id string)
	ReportAction(id string)
	ReportDamageTaken(id string, amount float64)
	ReportDamageDealt(id string, amount float64, boss bool)
	ReportHeal(id string, amount float64)
	ReportPotion(id string)
	ReportInventoryOpened(id string)
	ReportBlocks(id string, placed, broken int)
	ReportKill(id string)
	ReportArmor(id string, rating float64)
	ReportStructure(id, structure string, inside bool)
	ReportDeath(id string)
	ReportBossDeath(id string)
	Disconnect(id string)
}

type clientMessage struct {
	Type      string  `json:"type"`
	Region    string  `json:"region,omitempty"`
	X         float64 `json:"x,omitempty"`
	Z         float64 `json:"z,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Boss      bool    `json:"boss,omitempty"`
	Placed    int     `json:"placed,omitempty"`
	Broken    int     `json:"broken,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	Structure string  `json:"structure,omitempty"`
	Inside    bool    `json:"inside,omitempty"`
}

// ReadLoop consumes client messages until the connection drops, then
// disconnects the participant. Malformed or unknown messages are logged and
// skipped, never fatal.
func ReadLoop(conn *websocket.Conn, participantID string, commands Commands, logger telemetry.Logger) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	conn.SetReadLimit(maxMessageBytes)
	defer commands.Disconnect(participantID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Printf("read error for %s: %v", participantID, err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Printf("malformed message from %s: %v", participantID, err)
			continue
		}
		dispatch(participantID, msg, commands, logger)
	}
}

func dispatch(id string, msg clientMessage, commands Commands, logger telemetry.Logger) {
	switch msg.Type {
	case "position":
		commands.UpdatePosition(id, msg.Region, msg.X, msg.Z)
	case "heartbeat":
		commands.Heartbeat(id)
	case "action":
		commands.ReportAction(id)
	case "damage_taken":
		commands.ReportDamageTaken(id, msg.Amount)
	case "damage_dealt":
		commands.ReportDamageDealt(id, msg.Amount, msg.Boss)
	case "heal":
		commands.ReportHeal(id, msg.Amount)
	case "potion":
		commands.ReportPotion(id)
	case "inventory":
		commands.ReportInventoryOpened(id)
	case "blocks":
		commands.ReportBlocks(id, msg.Placed, msg.Broken)
	case "kill":
		commands.ReportKill(id)
	case "armor":
		commands.ReportArmor(id, msg.Rating)
	case "structure":
		commands.ReportStructure(id, msg.Structure, msg.Inside)
	case "death":
		commands.ReportDeath(id)
	case "boss_death":
		commands.ReportBossDeath(id)
	default:
		logger.Printf("unknown message type %q from %s", msg.Type, id)
	}
}

package lgtv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/halirc/internal/message"
)

// setID addresses the TV on the RS-232 bus.
const setID = "01"

// questionValue asks for the current value.
const questionValue = "ff"

// commands maps the human command to the two letter wire command.
var commands = map[string]string{
	"power":      "ka",
	"mutesound":  "ke",
	"osd":        "kl",
	"aspect":     "kc",
	"input":      "xb",
	"mutescreen": "kd",
	"volume":     "kf",
}

// values maps, per command, the wire value to the human value.
var values = map[string]map[string]string{
	"power":     {"00": "off", "01": "on"},
	"mutesound": {"00": "on", "01": "off"},
	"osd":       {"00": "off", "01": "on"},
	"aspect": {
		"01": "4:3", "02": "16:9", "04": "zoom", "06": "original",
		"07": "14:9", "09": "scan", "0B": "full width",
	},
	"input": {
		"00": "DTV", "10": "analog", "20": "AV", "40": "Component",
		"90": "HDMI1", "91": "HDMI2",
	},
	"mutescreen": {"00": "off", "01": "on", "10": "only sound"},
	"volume":     {},
}

func init() {
	for zoom := 1; zoom <= 16; zoom++ {
		values["aspect"][fmt.Sprintf("%02X", zoom+15)] = "cinema" + strconv.Itoa(zoom)
	}
	for volume := 0; volume < 64; volume++ {
		values["volume"][fmt.Sprintf("%02x", volume)] = strconv.Itoa(volume)
	}
}

// Codec translates between "power:on" and "ka 01 01".
//
// The TV answers with the second letter of the command only, e.g.
// "a 01 OK01", so answers are mapped back through that letter.
type Codec struct{}

// Decode accepts "command:value" or a bare command, which is a question.
func (Codec) Decode(decoded string) (message.Message, error) {
	human, value, hasValue := strings.Cut(decoded, ":")
	code, ok := commands[human]
	if !ok {
		return nil, fmt.Errorf("%w: lgtv %q", message.ErrUnknownCommand, human)
	}
	if !hasValue || value == "" {
		return message.NewBase(message.Fields{
			Decoded:  human,
			Encoded:  strings.Join([]string{code, setID, questionValue}, " "),
			Command:  human,
			Question: true,
		}), nil
	}
	wire, ok := wireValue(human, value)
	if !ok {
		return nil, fmt.Errorf("%w: lgtv %s has no value %q", message.ErrUndecodable, human, value)
	}
	return message.NewBase(message.Fields{
		Decoded: decoded,
		Encoded: strings.Join([]string{code, setID, wire}, " "),
		Command: human,
		Value:   value,
	}), nil
}

// Parse accepts an answer like "a 01 OK01" or "d 01 NG".
func (Codec) Parse(encoded string) (message.Message, error) {
	parts := strings.Fields(encoded)
	if len(parts) < 3 || len(parts[2]) < 2 {
		return nil, fmt.Errorf("%w: lgtv %q", message.ErrUndecodable, encoded)
	}
	human, err := commandFor(parts[0])
	if err != nil {
		return nil, err
	}
	status := parts[2][:2]
	wire := parts[2][2:]
	value := ""
	if wire != "" {
		v, ok := humanValue(human, wire)
		if !ok {
			return nil, fmt.Errorf("%w: lgtv %s has no wire value %q", message.ErrUndecodable, human, wire)
		}
		value = v
	}
	return message.NewBase(message.Fields{
		Decoded: human + ":" + value,
		Encoded: strings.Join([]string{commands[human], setID, wire}, " "),
		Command: human,
		Value:   value,
		Status:  status,
	}), nil
}

// Question asks for the current value of command.
func (c Codec) Question(command string) (message.Message, error) {
	human, _, _ := strings.Cut(command, ":")
	return c.Decode(human)
}

// commandFor finds the human command whose wire command ends in letter.
func commandFor(letter string) (string, error) {
	var found []string
	for human, code := range commands {
		if code[1:] == letter {
			found = append(found, human)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: lgtv answer for %q", message.ErrUnknownCommand, letter)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: lgtv answer %q matches %v", message.ErrUndecodable, letter, found)
	}
}

func wireValue(human, value string) (string, bool) {
	for wire, v := range values[human] {
		if v == value {
			return wire, true
		}
	}
	return "", false
}

func humanValue(human, wire string) (string, bool) {
	for w, v := range values[human] {
		if strings.EqualFold(w, wire) {
			return v, true
		}
	}
	return "", false
}

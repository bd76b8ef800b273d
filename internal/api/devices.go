package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/message"
)

// APIEventSource is the event source of actions started over HTTP.
const APIEventSource = "api"

// DeviceInfo describes one device and its queue.
type DeviceInfo struct {
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	Pending   int             `json:"pending"`
	Queue     device.Snapshot `json:"queue"`
}

func describeDevice(d *device.Device) DeviceInfo {
	return DeviceInfo{
		Name:      d.Name(),
		Connected: d.Connected(),
		Pending:   d.Pending(),
		Queue:     d.Queue().Snapshot(),
	}
}

// handleListDevices returns every registered device sorted by name.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })

	devices := make([]DeviceInfo, 0, len(all))
	for _, d := range all {
		devices = append(devices, describeDevice(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, describeDevice(d))
}

// ActionRequest is the optional body of a device action.
type ActionRequest struct {
	Args []string `json:"args"`
}

// ActionResponse reports the queued occurrence.
type ActionResponse struct {
	Occurrence string `json:"occurrence"`
	Action     string `json:"action"`
}

// handleDeviceAction queues a driver action on the dispatcher. It returns
// 202 once queued; the result is visible in the journal and on MQTT.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	actionName := chi.URLParam(r, "action")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	action, ok := s.resolve(name, actionName)
	if !ok {
		writeNotFound(w, "unknown action "+name+"."+actionName)
		return
	}

	full := name + "." + actionName
	msg := message.NewBase(message.Fields{
		Decoded: strings.TrimSpace(full + " " + strings.Join(req.Args, " ")),
		Command: full,
		Value:   strings.Join(req.Args, " "),
	})
	occ := s.hal.Dispatcher().Enqueue(full, automation.NewEvent(APIEventSource, msg), action, req.Args...)

	if occ == nil {
		writeUnavailable(w, "dispatcher closed")
		return
	}
	writeJSON(w, http.StatusAccepted, ActionResponse{Occurrence: occ.ID, Action: full})
}

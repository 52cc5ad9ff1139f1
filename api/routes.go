package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/NebulousLabs/errors"
	"github.com/julienschmidt/httprouter"

	"github.com/cccoolll/agent-lens/modules"
	"github.com/cccoolll/agent-lens/modules/compositor"
)

// settingsJSON mirrors modules.ChannelSettings for query-string decoding,
// per spec.md §6's "contrast/brightness/threshold/color (JSON strings,
// optional)". Absent fields fall back to the channel's registered
// defaults; a field present with a zero value is applied as given.
type settingsJSON struct {
	Contrast   *float64    `json:"contrast,omitempty"`
	Brightness *float64    `json:"brightness,omitempty"`
	Threshold  *[2]float64 `json:"threshold,omitempty"`
	Color      *[3]uint8   `json:"color,omitempty"`
}

func (s settingsJSON) apply(channel int) modules.ChannelSettings {
	out := modules.DefaultChannelSettings(channel)
	if s.Contrast != nil {
		out.Contrast = *s.Contrast
	}
	if s.Brightness != nil {
		out.Brightness = *s.Brightness
	}
	if s.Threshold != nil {
		out.Threshold = modules.Threshold{Low: s.Threshold[0], High: s.Threshold[1]}
	}
	if s.Color != nil {
		out.Color = modules.Color{R: s.Color[0], G: s.Color[1], B: s.Color[2]}
	}
	return out
}

// parseSettings reads contrast/brightness/threshold/color from q, each
// optional, per query param of the same name; threshold and color are
// JSON arrays (e.g. threshold=[2,98], color=[153,85,255]).
func parseSettings(q map[string][]string, channel int) (modules.ChannelSettings, error) {
	var s settingsJSON
	if v := first(q, "contrast"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return modules.ChannelSettings{}, errors.AddContext(modules.ErrInvalidRequest, "bad contrast")
		}
		s.Contrast = &f
	}
	if v := first(q, "brightness"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return modules.ChannelSettings{}, errors.AddContext(modules.ErrInvalidRequest, "bad brightness")
		}
		s.Brightness = &f
	}
	if v := first(q, "threshold"); v != "" {
		var t [2]float64
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return modules.ChannelSettings{}, errors.AddContext(modules.ErrInvalidRequest, "bad threshold")
		}
		s.Threshold = &t
	}
	if v := first(q, "color"); v != "" {
		var c [3]uint8
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return modules.ChannelSettings{}, errors.AddContext(modules.ErrInvalidRequest, "bad color")
		}
		s.Color = &c
	}
	return s.apply(channel), nil
}

func first(q map[string][]string, key string) string {
	if v, ok := q[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseTileCoord reads dataset_id/timestamp/channel/scale/x/y from q.
func parseTileCoord(q map[string][]string) (modules.TileCoord, error) {
	dataset := first(q, "dataset_id")
	timestamp := first(q, "timestamp")
	if dataset == "" || timestamp == "" {
		return modules.TileCoord{}, errors.AddContext(modules.ErrInvalidRequest, "missing dataset_id or timestamp")
	}
	channel, err := parseIntDefault(q, "channel", modules.BrightfieldChannel)
	if err != nil {
		return modules.TileCoord{}, err
	}
	scale, err := parseIntDefault(q, "scale", 0)
	if err != nil {
		return modules.TileCoord{}, err
	}
	x, err := parseUintDefault(q, "x", 0)
	if err != nil {
		return modules.TileCoord{}, err
	}
	y, err := parseUintDefault(q, "y", 0)
	if err != nil {
		return modules.TileCoord{}, err
	}
	return modules.TileCoord{Dataset: dataset, Timestamp: timestamp, Channel: channel, Scale: scale, X: x, Y: y}, nil
}

func parseIntDefault(q map[string][]string, key string, def int) (int, error) {
	v := first(q, key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.AddContext(modules.ErrInvalidRequest, "bad "+key)
	}
	return n, nil
}

func parseUintDefault(q map[string][]string, key string, def uint32) (uint32, error) {
	v := first(q, key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.AddContext(modules.ErrInvalidRequest, "bad "+key)
	}
	return uint32(n), nil
}

// tileHandler serves GET /tile.
func (api *API) tileHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	q := req.URL.Query()
	tile, err := parseTileCoord(q)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}
	settings, err := parseSettings(q, tile.Channel)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}
	priority, err := parseIntDefault(q, "priority", modules.DefaultPriority)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	data, err := api.server.GetTile(req.Context(), tile, settings, priority)
	if err != nil {
		if errors.Contains(err, modules.ErrInvalidRequest) {
			writeError(w, Error{err.Error()}, http.StatusBadRequest)
			return
		}
		// Any other internal failure still returns 200 with a black
		// tile, per spec.md §6/§7: tile endpoints never surface errors.
		data, _ = compositor.Compose(nil)
	}
	writePNG(w, data)
}

// mergedTileHandler serves GET /merged-tile.
func (api *API) mergedTileHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	q := req.URL.Query()
	base, err := parseTileCoord(q)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	channelsParam := first(q, "channels")
	if channelsParam == "" {
		channelsParam = strconv.Itoa(modules.BrightfieldChannel)
	}
	channelKeys, err := parseChannelList(channelsParam)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	settingsMap := make(map[int]modules.ChannelSettings, len(channelKeys))
	if raw := first(q, "settings"); raw != "" {
		var perChannel map[string]settingsJSON
		if err := json.Unmarshal([]byte(raw), &perChannel); err != nil {
			writeError(w, Error{"bad settings"}, http.StatusBadRequest)
			return
		}
		for key, sj := range perChannel {
			ch, err := strconv.Atoi(key)
			if err != nil {
				writeError(w, Error{"bad settings channel key"}, http.StatusBadRequest)
				return
			}
			settingsMap[ch] = sj.apply(ch)
		}
	}

	tiles := make([]modules.TileCoord, len(channelKeys))
	for i, ch := range channelKeys {
		t := base
		t.Channel = ch
		tiles[i] = t
	}

	priority, err := parseIntDefault(q, "priority", modules.DefaultPriority)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	data, err := api.server.GetMergedTile(req.Context(), tiles, settingsMap, priority)
	if err != nil {
		if errors.Contains(err, modules.ErrInvalidRequest) {
			writeError(w, Error{err.Error()}, http.StatusBadRequest)
			return
		}
		data, _ = compositor.Compose(nil)
	}
	writePNG(w, data)
}

func parseChannelList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.AddContext(modules.ErrInvalidRequest, "bad channels list")
		}
		out = append(out, n)
	}
	return out, nil
}

// healthStatus is the response body for GET /health.
type healthStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// healthHandler serves GET /health. Unlike the tile endpoints, health is
// the only operation that surfaces failures, per spec.md §7.
func (api *API) healthHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	if err := api.server.Health(req.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, healthStatus{Status: "error", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}

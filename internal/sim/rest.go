package sim

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Handler serves:
//
//	GET  /relays
//	GET  /coil/{index}
//	GET  /input/{index}
//	PUT  /input/{index}/{state}                 state: press | release
//	POST /input/{index}/press/{mode}            mode: tap | hold1 | hold2
//	PUT  /shutter/{name}/button/{dir}/{state}   dir: up | down
func (s *Sim) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /relays", s.getRelaysHandler)
	mux.HandleFunc("GET /coil/{index}", s.getCoilHandler)
	mux.HandleFunc("GET /input/{index}", s.getInputHandler)
	mux.HandleFunc("PUT /input/{index}/{state}", s.setInputHandler)
	mux.HandleFunc("POST /input/{index}/press/{mode}", s.pressInputHandler)
	mux.HandleFunc("PUT /shutter/{name}/button/{dir}/{state}", s.shutterButtonHandler)
	return mux
}

/* ------------------------ helpers: json & errors ------------------------ */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIndex(w http.ResponseWriter, s string) (int, bool) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		fail(w, http.StatusBadRequest, "invalid index")
		return 0, false
	}
	return i, true
}

func parseState(w http.ResponseWriter, s string) (bool, bool) {
	switch s {
	case "press":
		return true, true
	case "release":
		return false, true
	default:
		fail(w, http.StatusBadRequest, "state must be press or release")
		return false, false
	}
}

/* ------------------------------ handlers -------------------------------- */

func (s *Sim) getRelaysHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Relays())
}

func (s *Sim) getCoilHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIndex(w, r.PathValue("index"))
	if !ok {
		return
	}
	on, err := s.Bank.Coil(idx)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"value": on})
}

func (s *Sim) getInputHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIndex(w, r.PathValue("index"))
	if !ok {
		return
	}
	on, err := s.Bank.Input(idx)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"value": on})
}

func (s *Sim) setInputHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIndex(w, r.PathValue("index"))
	if !ok {
		return
	}
	pressed, ok := parseState(w, r.PathValue("state"))
	if !ok {
		return
	}
	if err := s.Bank.SetInput(idx, pressed); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "value": pressed})
}

func (s *Sim) pressInputHandler(w http.ResponseWriter, r *http.Request) {
	idx, ok := parseIndex(w, r.PathValue("index"))
	if !ok {
		return
	}
	mode := r.PathValue("mode")

	var d time.Duration
	switch mode {
	case "tap":
		d = 500 * time.Millisecond
	case "hold1":
		d = 1 * time.Second
	case "hold2":
		d = 2 * time.Second
	default:
		fail(w, http.StatusBadRequest, "mode must be one of: tap, hold1, hold2")
		return
	}
	if err := s.Bank.Press(idx, d); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "scheduled",
		"mode":   mode,
		"index":  idx,
		"ms":     d.Milliseconds(),
	})
}

func (s *Sim) shutterButtonHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	pressed, ok := parseState(w, r.PathValue("state"))
	if !ok {
		return
	}
	for _, sc := range s.cfg.Shutters {
		if sc.Name != name {
			continue
		}
		if !sc.HasButtons() {
			fail(w, http.StatusBadRequest, "shutter has no buttons")
			return
		}
		var pin int
		switch r.PathValue("dir") {
		case "up":
			pin = *sc.ButtonUpPin
		case "down":
			pin = *sc.ButtonDownPin
		default:
			fail(w, http.StatusBadRequest, "dir must be up or down")
			return
		}
		if err := s.Bank.SetInput(pin, pressed); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "input": pin, "value": pressed})
		return
	}
	fail(w, http.StatusNotFound, "shutter not found")
}

package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"lautenbacher.net/clockpanel/config"
	"lautenbacher.net/clockpanel/settings"
)

// colorUpdate mirrors the color object the remote posts.
type colorUpdate struct {
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

// stateUpdate is a partial update: only keys present in the request are
// written.
type stateUpdate struct {
	Animation *int         `json:"animation"`
	Separator *int         `json:"separator"`
	Color     *colorUpdate `json:"color"`
	Mirror    *bool        `json:"mirror"`
}

type api struct {
	store   *settings.Store
	conf    *config.Config
	limiter *rate.Limiter
}

// NewHandler returns the HTTP API of the remote: GET/POST /api for the
// settings record, GET /api/history for recent writes and GET /info.
func NewHandler(store *settings.Store, conf *config.Config) http.Handler {
	a := &api{store: store, conf: conf}
	if conf.Web.WriteRate > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(conf.Web.WriteRate), conf.Web.WriteBurst)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api", a.getState).Methods(http.MethodGet)
	r.HandleFunc("/api", a.setState).Methods(http.MethodPost)
	r.HandleFunc("/api/history", a.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/info", a.getInfo).Methods(http.MethodGet)

	var h http.Handler = r
	if len(conf.Web.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(conf.Web.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	return handlers.RecoveryHandler()(h)
}

func (a *api) getState(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Handling GET /api request")
	state, err := a.store.Snapshot()
	if err != nil {
		slog.Error("Failed to read settings for API", "error", err)
		http.Error(w, "Failed to read settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, state)
}

func (a *api) setState(w http.ResponseWriter, r *http.Request) {
	slog.Info("Handling POST /api request")
	defer r.Body.Close()

	var update stateUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Error("Failed to decode incoming JSON", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := update.validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid settings: %v", err), http.StatusBadRequest)
		return
	}

	if a.limiter != nil && !a.limiter.Allow() {
		slog.Warn("Rejecting settings write, rate limit exceeded")
		http.Error(w, "Too many writes, try again later", http.StatusTooManyRequests)
		return
	}

	var err error
	if a.conf.Storage.BatchWrites {
		err = a.store.Update(update.applyTx)
	} else {
		err = update.apply(a.store)
	}
	if err != nil {
		slog.Error("Failed to save settings", "error", err)
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	a.getState(w, r)
}

func (a *api) getHistory(w http.ResponseWriter, r *http.Request) {
	history := a.store.Journal().Recent()
	if history == nil {
		history = []settings.Change{}
	}
	writeJSON(w, history)
}

func (a *api) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"vendor":      a.conf.Device.Vendor,
		"model":       a.conf.Device.Model,
		"serial":      a.conf.Device.Serial,
		"storage":     a.conf.Storage.Type,
		"region_size": a.store.Schema().Size(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response to JSON", "error", err)
		http.Error(w, "Failed to serialize response", http.StatusInternalServerError)
	}
}

func (u *stateUpdate) validate() error {
	check := func(name string, v int) error {
		if v < 0 || v > 255 {
			return fmt.Errorf("%s must be between 0 and 255, got %d", name, v)
		}
		return nil
	}
	if u.Animation != nil {
		if err := check("animation", *u.Animation); err != nil {
			return err
		}
	}
	if u.Separator != nil {
		if err := check("separator", *u.Separator); err != nil {
			return err
		}
	}
	if u.Color != nil {
		if err := check("color.red", u.Color.Red); err != nil {
			return err
		}
		if err := check("color.green", u.Color.Green); err != nil {
			return err
		}
		if err := check("color.blue", u.Color.Blue); err != nil {
			return err
		}
	}
	return nil
}

func (u *stateUpdate) color() settings.RgbColor {
	return settings.RgbColor{R: uint8(u.Color.Red), G: uint8(u.Color.Green), B: uint8(u.Color.Blue)}
}

// apply writes each present key with its own storage cycle.
func (u *stateUpdate) apply(store *settings.Store) error {
	if u.Animation != nil {
		if err := store.WriteMainAnimationID(uint8(*u.Animation)); err != nil {
			return err
		}
	}
	if u.Separator != nil {
		if err := store.WriteSeparatorAnimationID(uint8(*u.Separator)); err != nil {
			return err
		}
	}
	if u.Color != nil {
		if err := store.WriteColor(u.color()); err != nil {
			return err
		}
	}
	if u.Mirror != nil {
		if err := store.WriteMirror(*u.Mirror); err != nil {
			return err
		}
	}
	return nil
}

func (u *stateUpdate) applyTx(tx *settings.Tx) error {
	if u.Animation != nil {
		if err := tx.SetMainAnimationID(uint8(*u.Animation)); err != nil {
			return err
		}
	}
	if u.Separator != nil {
		if err := tx.SetSeparatorAnimationID(uint8(*u.Separator)); err != nil {
			return err
		}
	}
	if u.Color != nil {
		if err := tx.SetColor(u.color()); err != nil {
			return err
		}
	}
	if u.Mirror != nil {
		if err := tx.SetMirror(*u.Mirror); err != nil {
			return err
		}
	}
	return nil
}

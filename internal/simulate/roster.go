package simulate

import (
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

const maxUpdateBody = 16 << 10

// Directory is an in-memory roster directory speaking the same wire format
// as the club's spreadsheet service.
type Directory struct {
	mu      sync.RWMutex
	order   []string
	players map[string]model.Player
	mux     *http.ServeMux
}

// NewDirectory serves players.
func NewDirectory(players []model.Player) *Directory {
	d := &Directory{
		order:   make([]string, 0, len(players)),
		players: make(map[string]model.Player, len(players)),
		mux:     http.NewServeMux(),
	}
	for _, p := range players {
		d.order = append(d.order, p.ID)
		d.players[p.ID] = p
	}
	d.mux.HandleFunc("GET /players", d.handleList)
	d.mux.HandleFunc("PUT /players/{id}", d.handleUpdate)
	return d
}

// Player returns the current entry for id.
func (d *Directory) Player(id string) (model.Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[id]
	return p, ok
}

func (d *Directory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mux.ServeHTTP(w, r)
}

func (d *Directory) handleList(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	out := make([]model.Player, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.players[id])
	}
	d.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Data []model.Player `json:"data"`
	}{Data: out})
}

func (d *Directory) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Gender model.Gender                `json:"gender"`
		Skills map[string]model.SkillLevel `json:"skills"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody)).Decode(&body); err != nil || !body.Gender.Valid() {
		http.Error(w, "invalid player update", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	p.Gender = body.Gender
	p.Skills = body.Skills
	d.players[id] = p
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Registry owns every live room. Rooms are created on demand, restored from
// their snapshot when one exists, and evicted when they shut down.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	deps     RoomDeps
	defaults Settings
	seed     func() *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(deps RoomDeps, defaults Settings) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rooms:    make(map[string]*Room),
		deps:     deps,
		defaults: defaults.normalized(),
		seed: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func validRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Create starts a fresh room with a generated id.
func (g *Registry) Create(overrides *Settings) *Room {
	settings := g.defaults
	if overrides != nil {
		settings = mergeSettings(settings, *overrides)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.New().String()[:8]
	for g.rooms[id] != nil {
		id = uuid.New().String()[:8]
	}
	return g.startLocked(newRoom(id, settings, g.deps, g.seed()))
}

// mergeSettings applies the non-zero fields of o over base.
func mergeSettings(base, o Settings) Settings {
	if o.MinPlayers > 0 {
		base.MinPlayers = o.MinPlayers
	}
	if o.MaxPlayers > 0 {
		base.MaxPlayers = o.MaxPlayers
	}
	if o.DaySeconds > 0 {
		base.DaySeconds = o.DaySeconds
	}
	if o.VotingSeconds > 0 {
		base.VotingSeconds = o.VotingSeconds
	}
	if o.NightSeconds > 0 {
		base.NightSeconds = o.NightSeconds
	}
	if len(o.CustomRoles) > 0 {
		base.CustomRoles = o.CustomRoles
	}
	return base.normalized()
}

// Lookup returns the live room, restoring it from its snapshot if needed.
// It fails with ErrRoomNotFound when neither exists.
func (g *Registry) Lookup(ctx context.Context, id string) (*Room, error) {
	return g.activate(ctx, id, false)
}

// GetOrCreate is Lookup that creates an empty room under id instead of failing.
func (g *Registry) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	return g.activate(ctx, id, true)
}

func (g *Registry) activate(ctx context.Context, id string, create bool) (*Room, error) {
	if !validRoomID(id) {
		return nil, ErrRoomNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r, nil
	}
	if g.ctx.Err() != nil {
		return nil, errRoomGone
	}

	if g.deps.Store != nil {
		blob, err := g.deps.Store.Get(ctx, id)
		switch {
		case err == nil:
			r, err := restoreRoom(blob, g.deps, g.seed())
			if err != nil {
				return nil, fmt.Errorf("restore room %s: %w", id, err)
			}
			return g.startLocked(r), nil
		case errors.Is(err, ErrSnapshotNotFound):
		default:
			log.Warn().Err(err).Str("room_id", id).Msg("snapshot read failed")
		}
	}

	if !create {
		return nil, ErrRoomNotFound
	}
	return g.startLocked(newRoom(id, g.defaults, g.deps, g.seed())), nil
}

func (g *Registry) startLocked(r *Room) *Room {
	r.onClose = g.evict
	g.rooms[r.id] = r
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		r.Run(g.ctx)
	}()
	log.Info().Str("room_id", r.id).Int("rooms", len(g.rooms)).Msg("room activated")
	return r
}

func (g *Registry) evict(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, id)
	log.Info().Str("room_id", id).Int("rooms", len(g.rooms)).Msg("room evicted")
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every room and waits for their goroutines to exit.
func (g *Registry) Close() {
	g.cancel()
	g.wg.Wait()
}

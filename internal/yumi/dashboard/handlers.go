package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yumisugoi/yumi/common/spec/envelope"
	"github.com/yumisugoi/yumi/common/version"
	"github.com/yumisugoi/yumi/internal/yumi/events"
	"github.com/yumisugoi/yumi/internal/yumi/persona"
	"github.com/yumisugoi/yumi/internal/yumi/store"
)

// dashboardActor is recorded as the editor of changes made through the API.
const dashboardActor = "dashboard"

// Check is the result of one health check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Version: version.Version, Checks: map[string]Check{}}
	start := time.Now()
	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.Checks["database"] = Check{Status: "fail", Message: "ping failed"}
		resp.Status = "degraded"
	} else {
		resp.Checks["database"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}
	resp.Timestamp = s.now().UTC().Format(time.RFC3339)

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Online bool                    `json:"online"`
	Bot    *events.Status          `json:"bot,omitempty"`
	Stats  store.ConversationStats `json:"stats"`
	Modes  map[string]string       `json:"modes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp StatusResponse
	if s.deps.Status != nil {
		st, found, err := s.deps.Status.Status(ctx)
		if err != nil {
			s.logger.Warn("bot status unavailable", "err", err)
		} else if found {
			resp.Online, resp.Bot = st.Connected, &st
		}
	}
	stats, err := s.deps.Store.ConversationStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read statistics")
		return
	}
	resp.Stats = stats
	if resp.Modes, err = s.deps.Store.LoadModes(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read modes")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// command publishes an inbound command for the bot.
func (s *Server) command(ctx context.Context, typ string, fill func(*envelope.Event)) {
	evt := envelope.New(envelope.SourceDashboard, typ)
	if fill != nil {
		fill(evt)
	}
	s.deps.Notifier.Notify(ctx, events.ChannelCommands, evt)
}

// Personas

type personaList struct {
	Builtin []string         `json:"builtin"`
	Custom  []persona.Custom `json:"custom"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	customs, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}
	if customs == nil {
		customs = []persona.Custom{}
	}
	writeJSON(w, http.StatusOK, personaList{Builtin: s.deps.Composer.Table().Names(), Custom: customs})
}

type personaRequest struct {
	Name         string `json:"name"`
	Creator      string `json:"creator"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Creator == "" {
		req.Creator = dashboardActor
	}
	p, err := s.deps.Catalog.Create(r.Context(), persona.Custom{
		Name:         req.Name,
		Creator:      req.Creator,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		s.personaError(w, err)
		return
	}
	s.command(r.Context(), events.CmdPersonaCreated, func(e *envelope.Event) { e.With("name", p.Name) })
	writeJSON(w, http.StatusCreated, p)
}

type builtinPersona struct {
	Name      string   `json:"name"`
	Builtin   bool     `json:"builtin"`
	Directive string   `json:"directive"`
	Openers   []string `json:"openers"`
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if p, ok := s.deps.Composer.Table().Get(name); ok {
		writeJSON(w, http.StatusOK, builtinPersona{Name: p.Name, Builtin: true, Directive: p.Directive, Openers: p.Openers})
		return
	}
	p, err := s.deps.Catalog.Get(r.Context(), name)
	if err != nil {
		s.personaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.deps.Catalog.Update(r.Context(), chi.URLParam(r, "name"), dashboardActor, true, req.Description, req.SystemPrompt)
	if err != nil {
		s.personaError(w, err)
		return
	}
	s.command(r.Context(), events.CmdPersonaUpdated, func(e *envelope.Event) { e.With("name", p.Name) })
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	if err := s.deps.Catalog.Delete(r.Context(), name, dashboardActor, true); err != nil {
		s.personaError(w, err)
		return
	}
	s.command(r.Context(), events.CmdPersonaDeleted, func(e *envelope.Event) { e.With("name", name) })
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) personaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persona.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persona.ErrNameTaken):
		writeError(w, http.StatusConflict, "persona name already taken")
	case errors.Is(err, persona.ErrUnknownPersona):
		writeError(w, http.StatusNotFound, "persona not found")
	case errors.Is(err, persona.ErrForbidden):
		writeError(w, http.StatusForbidden, "built-in personas cannot be changed")
	default:
		s.logger.Error("persona request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Modes, lockdown and maintenance

type modeRequest struct {
	Persona string `json:"persona"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	var req modeRequest
	if !decode(w, r, &req) {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(req.Persona))
	if !s.deps.Composer.Exists(r.Context(), name) {
		writeError(w, http.StatusBadRequest, "unknown persona")
		return "", false
	}
	if err := s.deps.Store.SaveMode(r.Context(), scope, name); err != nil {
		s.logger.Error("mode not saved", "scope", scope, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save mode")
		return "", false
	}
	return name, true
}

func (s *Server) handleGlobalPersona(w http.ResponseWriter, r *http.Request) {
	name, ok := s.setMode(w, r, persona.GlobalScope)
	if !ok {
		return
	}
	s.command(r.Context(), events.CmdActivatePersonaGlobal, func(e *envelope.Event) { e.With("persona", name) })
	writeJSON(w, http.StatusOK, map[string]string{"scope": persona.GlobalScope, "persona": name})
}

func (s *Server) handleServerPersona(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	scope := persona.ScopeFor(guildID, "")
	name, ok := s.setMode(w, r, scope)
	if !ok {
		return
	}
	s.command(r.Context(), events.CmdSetServerPersona, func(e *envelope.Event) {
		e.GuildID = guildID
		e.With("persona", name)
	})
	writeJSON(w, http.StatusOK, map[string]string{"scope": scope, "persona": name})
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func (s *Server) handleChannelLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !decode(w, r, &req) {
		return
	}
	guildID, channelID := chi.URLParam(r, "guildID"), chi.URLParam(r, "channelID")
	var err error
	if req.Locked {
		err = s.deps.Store.LockChannel(r.Context(), guildID, channelID)
	} else {
		err = s.deps.Store.UnlockChannel(r.Context(), guildID, channelID)
	}
	if err != nil {
		s.logger.Error("lock not saved", "guild", guildID, "channel", channelID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save lock")
		return
	}
	s.command(r.Context(), events.CmdLockChannel, func(e *envelope.Event) {
		e.GuildID, e.ChannelID = guildID, channelID
		e.With("locked", req.Locked)
	})
	writeJSON(w, http.StatusOK, map[string]any{"guild_id": guildID, "channel_id": channelID, "locked": req.Locked})
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if !decode(w, r, &req) {
		return
	}
	s.command(r.Context(), events.CmdMaintenanceMode, func(e *envelope.Event) { e.With("enabled", req.Enabled) })
	writeJSON(w, http.StatusAccepted, req)
}

// Users

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.UserSummary{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserFacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	f, err := s.deps.Store.LoadFacts(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load facts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "facts": f})
}

func (s *Server) handleDeleteUserFacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.deps.Store.DeleteFacts(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete facts")
		return
	}
	s.command(r.Context(), events.CmdClearUserData, func(e *envelope.Event) { e.UserID = userID })
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUserMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := s.deps.Store.DeleteUserConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete history")
		return
	}
	s.command(r.Context(), events.CmdClearUserMemory, func(e *envelope.Event) { e.UserID = userID })
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "deleted_messages": n})
}

// Q&A pairs

type qaRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) handleListQA(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.deps.Store.ListQAPairs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list qa pairs")
		return
	}
	if pairs == nil {
		pairs = []store.QAPair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) handleCreateQA(w http.ResponseWriter, r *http.Request) {
	var req qaRequest
	if !decode(w, r, &req) {
		return
	}
	req.Question, req.Answer = strings.TrimSpace(req.Question), strings.TrimSpace(req.Answer)
	if req.Question == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	p, err := s.deps.Store.AddQAPair(r.Context(), req.Question, req.Answer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add qa pair")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeleteQA(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err = s.deps.Store.DeleteQAPair(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "qa pair not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete qa pair")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"dabubble/internal/gateway"
	"dabubble/internal/guards"
	"dabubble/internal/models"
	"dabubble/internal/stores"

	"github.com/goccy/go-json"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

type handler struct {
	logger *zap.SugaredLogger
	set    *stores.Set
	guards *guards.Guards
	pool   fastjson.ParserPool
}

// jsonHandler handles a request whose body was validated and parsed
type jsonHandler func(w http.ResponseWriter, r *http.Request, v *fastjson.Value)

func (h *handler) apiRoutes() map[string]http.Handler {
	routes := map[string]jsonHandler{
		"/api/auth/login":           h.login,
		"/api/auth/login/google":    h.loginGoogle,
		"/api/auth/login/anonymous": h.loginAnonymous,
		"/api/auth/register":        h.register,
		"/api/auth/logout":          h.logout,
		"/api/auth/password/forgot": h.forgotPassword,
		"/api/auth/password/reset":  h.resetPassword,
		"/api/auth/profile":         h.updateProfile,
		"/api/auth/verification":    h.sendVerification,

		"/api/users/get":        h.getUser,
		"/api/presence/online":  h.presence(true),
		"/api/presence/offline": h.presence(false),

		"/api/channels/add":            h.createChannel,
		"/api/channels/get":            h.channels,
		"/api/channels/update":         h.updateChannel,
		"/api/channels/members/add":    h.membership("addMember"),
		"/api/channels/members/remove": h.membership("removeMember"),
		"/api/channels/admins/add":     h.membership("addAdmin"),
		"/api/channels/admins/remove":  h.membership("removeAdmin"),

		"/api/messages/add":     h.sendMessage,
		"/api/messages/update":  h.updateMessage,
		"/api/messages/delete":  h.deleteMessage,
		"/api/messages/react":   h.toggleReaction,
		"/api/messages/channel": h.channelMessages,
		"/api/messages/direct":  h.directMessages,
	}

	out := make(map[string]http.Handler, len(routes))
	for pattern, fn := range routes {
		out[pattern] = h.withBody(fn)
	}
	return out
}

func (h *handler) pageRoutes() map[string]http.Handler {
	return map[string]http.Handler{
		guards.PathSignIn:          h.page(guards.PathSignIn, h.guards.RequireNoAuth),
		"/auth/signup":             h.page("/auth/signup", h.guards.RequireNoAuth),
		guards.PathAvatarSelection: h.page(guards.PathAvatarSelection, h.guards.RequireAvatarSelection),
		guards.PathDashboard:       h.page(guards.PathDashboard, h.guards.RequireAuth),
		"/auth/action":             http.HandlerFunc(h.action),
	}
}

// withBody parses the request body with a pooled parser and hands the value to fn
func (h *handler) withBody(fn jsonHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Can not read request body", http.StatusBadRequest)
			return
		}

		parser := h.pool.Get()
		defer h.pool.Put(parser)
		v, err := parser.ParseBytes(body)
		if err != nil {
			http.Error(w, "Malformed JSON", http.StatusBadRequest)
			return
		}
		if v.Type() != fastjson.TypeObject {
			http.Error(w, "Body must be a JSON object", http.StatusBadRequest)
			return
		}

		fn(w, r, v)
	})
}

// page serves a guarded page. Denials are answered with 303 to the guard's redirect.
func (h *handler) page(name string, guard func(ctx context.Context) guards.Decision) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			w.Header().Set("Allow", "GET")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		d := guard(r.Context())
		if !d.Allow {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}

		h.respond(w, http.StatusOK, map[string]interface{}{
			"page":   name,
			"status": h.set.Auth.Status(),
		})
	})
}

// action handles the deep links carrying one-time codes on "/auth/action" endpoint
func (h *handler) action(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		w.Header().Set("Allow", "GET")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	code := q.Get("oobCode")
	if code == "" {
		http.Error(w, "Missing parameter \"oobCode\"", http.StatusBadRequest)
		return
	}

	switch q.Get("mode") {
	case "verifyEmail":
		if err := h.set.Auth.VerifyEmail(r.Context(), code); err != nil {
			h.fail(w, err, "Email verification failed")
			return
		}
		http.Redirect(w, r, guards.PathDashboard, http.StatusSeeOther)
	case "resetPassword":
		// the password form posts the code back to /api/auth/password/reset
		h.respond(w, http.StatusOK, map[string]string{"mode": "resetPassword", "oobCode": code})
	default:
		http.Error(w, "Unknown mode", http.StatusBadRequest)
	}
}

// login handles HTTP requests on "/api/auth/login" endpoint
func (h *handler) login(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	email, err := requireString(v, "email")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	password, err := requireString(v, "password")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.Auth.LoginWithEmail(r.Context(), email, password); err != nil {
		h.fail(w, err, "Login failed")
		return
	}
	h.respond(w, http.StatusOK, h.set.Auth.State())
}

func (h *handler) loginGoogle(w http.ResponseWriter, r *http.Request, _ *fastjson.Value) {
	if err := h.set.Auth.LoginWithGoogle(r.Context()); err != nil {
		h.fail(w, err, "Login failed")
		return
	}
	h.respond(w, http.StatusOK, h.set.Auth.State())
}

func (h *handler) loginAnonymous(w http.ResponseWriter, r *http.Request, _ *fastjson.Value) {
	if err := h.set.Auth.LoginAnonymously(r.Context()); err != nil {
		h.fail(w, err, "Login failed")
		return
	}
	h.respond(w, http.StatusOK, h.set.Auth.State())
}

// register handles HTTP requests on "/api/auth/register" endpoint
// the new account also gets its user document
func (h *handler) register(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	email, err := requireString(v, "email")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if !stores.IsValidEmail(email) {
		h.fail(w, gateway.ErrInvalidEmail, "")
		return
	}
	password, err := requireString(v, "password")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	displayName, err := requireString(v, "displayName")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.Auth.Register(r.Context(), email, password, stores.SanitizeInput(displayName)); err != nil {
		h.fail(w, err, "Registration failed")
		return
	}

	st := h.set.Auth.State()
	if st.User != nil {
		if err := h.set.User.CreateUser(r.Context(), *st.User); err != nil {
			h.fail(w, err, "Failed to create user")
			return
		}
	}
	h.respond(w, http.StatusCreated, st)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request, _ *fastjson.Value) {
	if err := h.set.Auth.Logout(r.Context()); err != nil {
		h.fail(w, err, "Logout failed")
		return
	}
	h.respond(w, http.StatusOK, h.set.Auth.State())
}

// forgotPassword handles HTTP requests on "/api/auth/password/forgot" endpoint
// unknown addresses get the same answer as known ones
func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	email, err := requireString(v, "email")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if err := h.set.Auth.SendPasswordResetEmail(r.Context(), email); err != nil {
		h.fail(w, err, "Failed to send password reset email")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	code, err := requireString(v, "code")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	password, err := requireString(v, "password")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if err := h.set.Auth.ConfirmPasswordReset(r.Context(), code, password); err != nil {
		h.fail(w, err, "Failed to reset password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateProfile handles HTTP requests on "/api/auth/profile" endpoint
func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	var update gateway.ProfileUpdate
	var err error
	if update.DisplayName, err = optionalString(v, "displayName"); err != nil {
		h.fail(w, err, "")
		return
	}
	if update.PhotoURL, err = optionalString(v, "photoURL"); err != nil {
		h.fail(w, err, "")
		return
	}
	if update.DisplayName != nil {
		name := stores.SanitizeInput(*update.DisplayName)
		update.DisplayName = &name
	}

	if err := h.set.Auth.UpdateUserProfile(r.Context(), update); err != nil {
		h.fail(w, err, "Failed to update profile")
		return
	}
	h.respond(w, http.StatusOK, h.set.Auth.State())
}

func (h *handler) sendVerification(w http.ResponseWriter, r *http.Request, _ *fastjson.Value) {
	if err := h.set.Auth.SendEmailVerification(r.Context()); err != nil {
		h.fail(w, err, "Failed to send verification email")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// getUser handles HTTP requests on "/api/users/get" endpoint
func (h *handler) getUser(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	uid, err := requireString(v, "uid")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	u, err := h.set.User.GetUserByID(r.Context(), uid)
	if err != nil {
		h.fail(w, err, "Failed to get user")
		return
	}
	if u == nil {
		http.Error(w, "User does not exist", http.StatusNotFound)
		return
	}
	h.respond(w, http.StatusOK, u)
}

// presence handles "/api/presence/online" and "/api/presence/offline". The uid field
// defaults to the signed-in user.
func (h *handler) presence(online bool) jsonHandler {
	return func(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
		uid, err := optionalString(v, "uid")
		if err != nil {
			h.fail(w, err, "")
			return
		}
		if uid == nil {
			current, ok := h.currentUID(w)
			if !ok {
				return
			}
			uid = &current
		}

		if online {
			err = h.set.Presence.SetUserOnline(r.Context(), *uid)
		} else {
			err = h.set.Presence.SetUserOffline(r.Context(), *uid)
		}
		if err != nil {
			h.fail(w, err, "Failed to update presence")
			return
		}
		h.respond(w, http.StatusOK, h.set.Presence.State())
	}
}

// createChannel handles HTTP requests on "/api/channels/add" endpoint
func (h *handler) createChannel(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	uid, ok := h.currentUID(w)
	if !ok {
		return
	}

	name, err := requireString(v, "name")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	req := models.CreateChannelRequest{Name: stores.SanitizeInput(name)}
	description, err := optionalString(v, "description")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if description != nil {
		req.Description = stores.SanitizeInput(*description)
	}
	isPrivate, err := optionalBool(v, "isPrivate")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	if isPrivate != nil {
		req.IsPrivate = *isPrivate
	}
	if req.Members, err = stringArray(v, "members"); err != nil {
		h.fail(w, err, "")
		return
	}

	c, err := h.set.Channel.CreateChannel(r.Context(), req, uid)
	if err != nil {
		h.fail(w, err, "Failed to create channel")
		return
	}
	h.respond(w, http.StatusCreated, c)
}

// channels handles HTTP requests on "/api/channels/get" endpoint
func (h *handler) channels(w http.ResponseWriter, r *http.Request, _ *fastjson.Value) {
	uid, ok := h.currentUID(w)
	if !ok {
		return
	}

	if err := h.set.Channel.LoadChannels(r.Context(), uid); err != nil {
		h.fail(w, err, "Failed to load channels")
		return
	}
	st := h.set.Channel.State()
	h.respond(w, http.StatusOK, map[string]interface{}{
		"channels":   st.Channels,
		"myChannels": st.MyChannels,
	})
}

// updateChannel handles HTTP requests on "/api/channels/update" endpoint
func (h *handler) updateChannel(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	id, err := requireString(v, "id")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	var update models.ChannelUpdate
	if update.Name, err = optionalString(v, "name"); err != nil {
		h.fail(w, err, "")
		return
	}
	if update.Description, err = optionalString(v, "description"); err != nil {
		h.fail(w, err, "")
		return
	}
	if update.IsPrivate, err = optionalBool(v, "isPrivate"); err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.Channel.UpdateChannel(r.Context(), id, update); err != nil {
		h.fail(w, err, "Failed to update channel")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"id": id})
}

// membership handles the member and admin routes under "/api/channels/"
// and answers with the resulting member list
func (h *handler) membership(command string) jsonHandler {
	return func(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
		channelID, err := requireString(v, "channelId")
		if err != nil {
			h.fail(w, err, "")
			return
		}
		uid, err := requireString(v, "uid")
		if err != nil {
			h.fail(w, err, "")
			return
		}

		s := h.set.ChannelMember
		var mutate func(ctx context.Context, channelID, uid string) error
		switch command {
		case "addMember":
			mutate = s.AddMember
		case "removeMember":
			mutate = s.RemoveMember
		case "addAdmin":
			mutate = s.AddAdmin
		default:
			mutate = s.RemoveAdmin
		}
		if err := mutate(r.Context(), channelID, uid); err != nil {
			h.fail(w, err, "Failed to update channel members")
			return
		}

		members, err := s.Members(r.Context(), channelID)
		if err != nil {
			h.fail(w, err, "Failed to load members")
			return
		}
		h.respond(w, http.StatusOK, map[string]interface{}{"members": members})
	}
}

// sendMessage handles HTTP requests on "/api/messages/add" endpoint
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	uid, ok := h.currentUID(w)
	if !ok {
		return
	}

	var req models.CreateMessageRequest
	if err := json.Unmarshal(v.MarshalTo(nil), &req); err != nil {
		http.Error(w, "Malformed message", http.StatusBadRequest)
		return
	}
	req.Content = stores.SanitizeInput(req.Content)

	m, err := h.set.SendMessage(r.Context(), req, uid)
	if err != nil {
		h.fail(w, err, "Failed to send message")
		return
	}
	h.respond(w, http.StatusCreated, m)
}

// updateMessage handles HTTP requests on "/api/messages/update" endpoint
func (h *handler) updateMessage(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	id, err := requireString(v, "id")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	content, err := requireString(v, "content")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.EditMessage(r.Context(), id, stores.SanitizeInput(content)); err != nil {
		h.fail(w, err, "Failed to update message")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"id": id})
}

// deleteMessage handles HTTP requests on "/api/messages/delete" endpoint
func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	id, err := requireString(v, "id")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.DeleteMessage(r.Context(), id); err != nil {
		h.fail(w, err, "Failed to delete message")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"id": id})
}

// toggleReaction handles HTTP requests on "/api/messages/react" endpoint
func (h *handler) toggleReaction(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	uid, ok := h.currentUID(w)
	if !ok {
		return
	}
	id, err := requireString(v, "id")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	emoji, err := requireString(v, "emoji")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	if err := h.set.ToggleReaction(r.Context(), id, emoji, uid); err != nil {
		h.fail(w, err, "Failed to toggle reaction")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"id": id})
}

// channelMessages handles HTTP requests on "/api/messages/channel" endpoint
// and makes the channel the active one
func (h *handler) channelMessages(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	channelID, err := requireString(v, "channelId")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	limit, err := optionalInt(v, "limit")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	s := h.set.ChannelMessage
	if err := s.LoadChannelMessages(r.Context(), channelID, limit); err != nil {
		h.fail(w, err, "Failed to load channel messages")
		return
	}
	s.SetActiveChannel(channelID)
	h.set.ChannelMember.SetActiveChannel(channelID)
	h.respond(w, http.StatusOK, map[string]interface{}{"messages": s.MessagesByChannel(channelID)})
}

// directMessages handles HTTP requests on "/api/messages/direct" endpoint
// the conversation is between the signed-in user and uid
func (h *handler) directMessages(w http.ResponseWriter, r *http.Request, v *fastjson.Value) {
	current, ok := h.currentUID(w)
	if !ok {
		return
	}
	uid, err := requireString(v, "uid")
	if err != nil {
		h.fail(w, err, "")
		return
	}
	limit, err := optionalInt(v, "limit")
	if err != nil {
		h.fail(w, err, "")
		return
	}

	s := h.set.DirectMessage
	if err := s.LoadDirectMessages(r.Context(), current, uid, limit); err != nil {
		h.fail(w, err, "Failed to load direct messages")
		return
	}
	s.SetActiveConversation(stores.ConversationID(current, uid))
	h.respond(w, http.StatusOK, map[string]interface{}{"messages": s.MessagesBetween(current, uid)})
}

// currentUID returns the uid of the signed-in user or answers 401
func (h *handler) currentUID(w http.ResponseWriter) (string, bool) {
	st := h.set.Auth.State()
	if st.User == nil {
		h.fail(w, gateway.ErrNoUser, "")
		return "", false
	}
	return st.User.UID, true
}

func (h *handler) respond(w http.ResponseWriter, code int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// fail answers with the status err maps to. Unexpected errors are logged and
// answered with defaultMessage.
func (h *handler) fail(w http.ResponseWriter, err error, defaultMessage string) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error(err)
		msg = defaultMessage
		if msg == "" {
			msg = http.StatusText(code)
		}
	}
	http.Error(w, msg, code)
}

func statusOf(err error) int {
	var fe fieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrInvalidCredentials),
		errors.Is(err, gateway.ErrNoUser),
		errors.Is(err, gateway.ErrPopupClosed):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrEmailInUse),
		errors.Is(err, gateway.ErrWeakPassword),
		errors.Is(err, gateway.ErrInvalidEmail),
		errors.Is(err, gateway.ErrInvalidActionCode),
		errors.Is(err, gateway.ErrAlreadyExists),
		errors.Is(err, models.ErrMessageTarget),
		errors.Is(err, models.ErrMessageContent),
		errors.Is(err, models.ErrMessageType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

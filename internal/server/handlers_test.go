package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"dabubble/internal/gateway"
	"dabubble/internal/gateway/memory"
	"dabubble/internal/guards"
	"dabubble/internal/metrics"
	"dabubble/internal/realtime"
	"dabubble/internal/stores"
	tu "dabubble/internal/testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

type fixture struct {
	auth    *memory.Auth
	set     *stores.Set
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	srv     *Server

	mu    sync.Mutex
	links []string
}

func bootstrap(t *testing.T, opts ...Option) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	f := &fixture{reg: prometheus.NewRegistry()}
	f.metrics, err = metrics.New(f.reg, f.reg)
	require.NoError(t, err)

	f.auth = memory.NewAuth(
		memory.WithBcryptCost(bcrypt.MinCost),
		memory.WithMailer(func(_, link string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.links = append(f.links, link)
		}),
	)
	f.set = stores.NewSet(sugar, memory.NewDocuments(), f.auth, stores.WithRecorder(f.metrics))
	t.Cleanup(f.set.Close)

	g := guards.New(sugar, f.set.Auth, f.auth)
	opts = append([]Option{
		TimeoutHandler(5*time.Second, "Request timed out"),
		WithMetrics(f.metrics),
		WithHub(realtime.NewHub(sugar)),
	}, opts...)
	f.srv, err = NewServer(sugar, f.set, g, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
	return rr
}

// register signs up a fresh account and returns its uid
func (f *fixture) register(t *testing.T) string {
	t.Helper()
	rr := f.post(t, "/api/auth/register", `{"email":"`+tu.RandEmail()+`","password":"secret1","displayName":"Nina"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return parse(t, rr).mustString(t, "user", "uid")
}

func (f *fixture) lastLink(t *testing.T) *url.URL {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.links)
	u, err := url.Parse(f.links[len(f.links)-1])
	require.NoError(t, err)
	return u
}

type value struct{ *fastjson.Value }

func parse(t *testing.T, rr *httptest.ResponseRecorder) value {
	t.Helper()
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	v, err := fastjson.ParseBytes(body)
	require.NoError(t, err)
	return value{v}
}

func (v value) mustString(t *testing.T, keys ...string) string {
	t.Helper()
	s := string(v.GetStringBytes(keys...))
	require.NotEmpty(t, s, "missing %v", keys)
	return s
}

func requireRedirect(t *testing.T, rr *httptest.ResponseRecorder, location string) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rr.Code)
	require.Equal(t, location, rr.Header().Get("Location"))
}

func TestPagesSignedOut(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	requireRedirect(t, f.get(t, "/dashboard"), guards.PathSignIn)
	requireRedirect(t, f.get(t, "/auth/avatar-selection"), guards.PathSignIn)

	rr := f.get(t, "/auth/signin")
	require.Equal(t, http.StatusOK, rr.Code)
	v := parse(t, rr)
	require.Equal(t, "/auth/signin", string(v.GetStringBytes("page")))
	require.Equal(t, string(stores.StatusUnauthenticated), string(v.GetStringBytes("status")))

	require.Equal(t, http.StatusOK, f.get(t, "/auth/signup").Code)

	rr = f.post(t, "/dashboard", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.post(t, "/api/auth/login", `{"email":"`+tu.RandEmail()+`","password":"secret1"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, gateway.ErrInvalidCredentials.Error()+"\n", rr.Body.String())
	require.True(t, f.set.Auth.HasError())
}

func TestLoginMissingField(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.post(t, "/api/auth/login", `{"password":"secret1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, `Missing Field "email"`+"\n", rr.Body.String())

	rr = f.post(t, "/api/auth/login", `{"email":"","password":"secret1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, `Field "email" must be a string and have non-zero length`+"\n", rr.Body.String())

	rr = f.post(t, "/api/auth/login", `[]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Body must be a JSON object\n", rr.Body.String())
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.post(t, "/api/auth/register", `{"email":"nope","password":"secret1","displayName":"Nina"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, gateway.ErrInvalidEmail.Error()+"\n", rr.Body.String())

	rr = f.post(t, "/api/auth/register", `{"email":"`+tu.RandEmail()+`","password":"123","displayName":"Nina"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, gateway.ErrWeakPassword.Error()+"\n", rr.Body.String())

	email := tu.RandEmail()
	rr = f.post(t, "/api/auth/register", `{"email":"`+email+`","password":"secret1","displayName":"Nina"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = f.post(t, "/api/auth/register", `{"email":"`+email+`","password":"secret1","displayName":"Nina"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, gateway.ErrEmailInUse.Error()+"\n", rr.Body.String())
}

func TestRegisterVerifyAndPickAvatar(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	uid := f.register(t)

	rr := f.post(t, "/api/users/get", `{"uid":"`+uid+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Nina", string(parse(t, rr).GetStringBytes("displayName")))

	// unverified accounts are sent back to sign in
	requireRedirect(t, f.get(t, "/dashboard"), guards.PathSignIn)
	requireRedirect(t, f.get(t, "/auth/signin"), guards.PathDashboard)

	rr = f.post(t, "/api/auth/verification", `{}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	link := f.lastLink(t)
	require.Equal(t, "verifyEmail", link.Query().Get("mode"))

	requireRedirect(t, f.get(t, "/auth/action?"+link.RawQuery), guards.PathDashboard)
	requireRedirect(t, f.get(t, "/dashboard"), guards.PathAvatarSelection)
	require.Equal(t, http.StatusOK, f.get(t, "/auth/avatar-selection").Code)

	rr = f.post(t, "/api/auth/profile", `{"photoURL":"/avatars/1.png"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "/avatars/1.png", string(parse(t, rr).GetStringBytes("user", "photoURL")))

	require.Equal(t, http.StatusOK, f.get(t, "/dashboard").Code)
	requireRedirect(t, f.get(t, "/auth/avatar-selection"), guards.PathDashboard)

	rr = f.post(t, "/api/auth/logout", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, parse(t, rr).GetBool("isAuthenticated"))
	requireRedirect(t, f.get(t, "/dashboard"), guards.PathSignIn)
}

func TestActionCodes(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.get(t, "/auth/action?mode=verifyEmail&oobCode=garbage")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, gateway.ErrInvalidActionCode.Error()+"\n", rr.Body.String())

	require.Equal(t, http.StatusBadRequest, f.get(t, "/auth/action?mode=verifyEmail").Code)
	require.Equal(t, http.StatusBadRequest, f.get(t, "/auth/action?mode=other&oobCode=x").Code)
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	email := tu.RandEmail()
	rr := f.post(t, "/api/auth/register", `{"email":"`+email+`","password":"secret1","displayName":"Nina"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, http.StatusOK, f.post(t, "/api/auth/logout", `{}`).Code)

	// unknown addresses are not revealed
	require.Equal(t, http.StatusAccepted, f.post(t, "/api/auth/password/forgot", `{"email":"`+tu.RandEmail()+`"}`).Code)
	require.Equal(t, http.StatusAccepted, f.post(t, "/api/auth/password/forgot", `{"email":"`+email+`"}`).Code)

	link := f.lastLink(t)
	rr = f.get(t, "/auth/action?"+link.RawQuery)
	require.Equal(t, http.StatusOK, rr.Code)
	code := parse(t, rr).mustString(t, "oobCode")

	rr = f.post(t, "/api/auth/password/reset", `{"code":"`+code+`","password":"secret2"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.post(t, "/api/auth/login", `{"email":"`+email+`","password":"secret1"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = f.post(t, "/api/auth/login", `{"email":"`+email+`","password":"secret2"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, parse(t, rr).GetBool("isAuthenticated"))

	// codes are single use
	rr = f.post(t, "/api/auth/password/reset", `{"code":"`+code+`","password":"secret3"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginWithGoogle(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.post(t, "/api/auth/login/google", `{}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, gateway.ErrPopupClosed.Error()+"\n", rr.Body.String())

	f.auth.RegisterProvider(gateway.ProviderGoogle, gateway.Identity{
		Email:       tu.RandEmail(),
		DisplayName: "Nina",
		PhotoURL:    "/avatars/2.png",
	})
	rr = f.post(t, "/api/auth/login/google", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, http.StatusOK, f.get(t, "/dashboard").Code)
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.post(t, "/api/auth/login/anonymous", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, http.StatusOK, f.get(t, "/dashboard").Code)

	// anonymous sessions have no user document
	rr = f.post(t, "/api/presence/online", `{}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, gateway.ErrNotFound.Error()+"\n", rr.Body.String())
}

func TestRequiresSignIn(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	for _, path := range []string{"/api/channels/add", "/api/channels/get", "/api/messages/add", "/api/messages/direct", "/api/messages/react"} {
		rr := f.post(t, path, `{"name":"general","uid":"u2","content":"hi","channelId":"c1","id":"m1","emoji":"x"}`)
		require.Equal(t, http.StatusUnauthorized, rr.Code, path)
		require.Equal(t, gateway.ErrNoUser.Error()+"\n", rr.Body.String(), path)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	uid := f.register(t)

	rr := f.post(t, "/api/presence/online", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	online := parse(t, rr).GetArray("onlineUsers")
	require.Len(t, online, 1)
	require.Equal(t, uid, string(online[0].GetStringBytes()))

	rr = f.post(t, "/api/presence/offline", `{"uid":"`+uid+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, parse(t, rr).GetArray("onlineUsers"))

	rr = f.post(t, "/api/presence/offline", `{"uid":42}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, `Field "uid" must be a string`+"\n", rr.Body.String())
}

func TestChannelAndMessageFlow(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	uid := f.register(t)

	rr := f.post(t, "/api/channels/add", `{"name":"general","description":"<b>all</b>","members":["u2"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c := parse(t, rr)
	channelID := c.mustString(t, "id")
	require.Equal(t, uid, string(c.GetStringBytes("createdBy")))
	require.Equal(t, "ball/b", string(c.GetStringBytes("description")))

	rr = f.post(t, "/api/channels/get", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	lists := parse(t, rr)
	require.Len(t, lists.GetArray("channels"), 1)
	require.Len(t, lists.GetArray("myChannels"), 1)

	rr = f.post(t, "/api/channels/update", `{"id":"`+channelID+`","name":"random","isPrivate":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.post(t, "/api/channels/update", `{"id":"missing","name":"random"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.post(t, "/api/channels/update", `{"id":"`+channelID+`","isPrivate":"yes"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.post(t, "/api/channels/members/add", `{"channelId":"`+channelID+`","uid":"u3"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, parse(t, rr).GetArray("members"), 3)
	rr = f.post(t, "/api/channels/admins/add", `{"channelId":"`+channelID+`","uid":"u3"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, f.set.ChannelMember.IsUserAdmin(context.Background(), channelID, "u3"))
	rr = f.post(t, "/api/channels/members/remove", `{"channelId":"`+channelID+`","uid":"u2"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, parse(t, rr).GetArray("members"), 2)
	rr = f.post(t, "/api/channels/members/add", `{"channelId":"missing","uid":"u3"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.post(t, "/api/messages/add", `{"content":"hello","channelId":"`+channelID+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	m := parse(t, rr)
	messageID := m.mustString(t, "id")
	require.Equal(t, uid, string(m.GetStringBytes("authorId")))

	rr = f.post(t, "/api/messages/add", `{"content":"both","channelId":"c1","recipientId":"u2"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "message must have exactly one of channel id or recipient id\n", rr.Body.String())

	rr = f.post(t, "/api/messages/react", `{"id":"`+messageID+`","emoji":"👍"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.post(t, "/api/messages/update", `{"id":"`+messageID+`","content":"hello there"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.post(t, "/api/messages/channel", `{"channelId":"`+channelID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	messages := parse(t, rr).GetArray("messages")
	require.Len(t, messages, 1)
	require.Equal(t, "hello there", string(messages[0].GetStringBytes("content")))
	require.True(t, messages[0].GetBool("isEdited"))
	require.Equal(t, 1, messages[0].GetInt("reactions", "0", "count"))
	require.Equal(t, channelID, f.set.ChannelMessage.State().ActiveChannelID)

	rr = f.post(t, "/api/messages/delete", `{"id":"`+messageID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.post(t, "/api/messages/update", `{"id":"missing","content":"x"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, stores.ErrMessageNotFound.Error()+"\n", rr.Body.String())

	rr = f.post(t, "/api/messages/channel", `{"channelId":"`+channelID+`","limit":-1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDirectMessages(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)
	uid := f.register(t)

	for _, content := range []string{"one", "two", "three"} {
		rr := f.post(t, "/api/messages/add", `{"content":"`+content+`","recipientId":"u2"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := f.post(t, "/api/messages/direct", `{"uid":"u2","limit":2}`)
	require.Equal(t, http.StatusOK, rr.Code)
	messages := parse(t, rr).GetArray("messages")
	require.Len(t, messages, 2)
	require.Equal(t, "three", string(messages[0].GetStringBytes("content")))
	require.Equal(t, stores.ConversationID(uid, "u2"), f.set.DirectMessage.State().ActiveConversationID)

	rr = f.post(t, "/api/users/get", `{"uid":"u2"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuthRateLimit(t *testing.T) {
	t.Parallel()

	f := bootstrap(t, AuthRateLimit(rate.Every(time.Hour), 2))

	body := `{"email":"` + tu.RandEmail() + `","password":"secret1"}`
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/api/auth/login", body).Code)
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/api/auth/login", body).Code)
	require.Equal(t, http.StatusTooManyRequests, f.post(t, "/api/auth/login", body).Code)

	// other routes are not limited
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/api/channels/get", `{}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	requireRedirect(t, f.get(t, "/dashboard"), guards.PathSignIn)
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/api/auth/login", `{"email":"a@b.io","password":"secret1"}`).Code)

	rr := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `dabubble_http_requests_total{code="303",route="/dashboard"} 1`)
	require.Contains(t, body, `dabubble_http_requests_total{code="401",route="/api/auth/login"} 1`)
	require.Contains(t, body, `dabubble_commands_total{command="loginWithEmail",outcome="error",store="auth"} 1`)
}

func TestHealthAndWebsocketRoutes(t *testing.T) {
	t.Parallel()

	f := bootstrap(t)

	rr := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK", rr.Body.String())

	// plain GET without the upgrade handshake
	require.Equal(t, http.StatusBadRequest, f.get(t, "/ws").Code)
}

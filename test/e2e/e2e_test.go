// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memotag-notifier/internal/api"
	"memotag-notifier/internal/common/logger"
	"memotag-notifier/internal/models"
	"memotag-notifier/internal/notification/dispatch"
	"memotag-notifier/internal/notification/gateway"
	"memotag-notifier/internal/notification/recipients"
	"memotag-notifier/internal/realtime/broadcast"
	"memotag-notifier/internal/realtime/registry"
	"memotag-notifier/internal/realtime/ws"
	"memotag-notifier/internal/store/items"
	"memotag-notifier/internal/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ==========================
// Test Stack
// ==========================

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type outbox struct {
	mu   sync.Mutex
	sent []sentMail
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (o *outbox) recipients() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.sent))
	for i, m := range o.sent {
		out[i] = m.To
	}
	return out
}

type mapStore map[string]*models.Item

func (s mapStore) GetItem(_ context.Context, itemID string) (*models.Item, error) {
	item, ok := s[itemID]
	if !ok {
		return nil, items.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

type stack struct {
	url      string
	registry *registry.Registry
	outbox   *outbox
}

func startStack(t *testing.T, rdb *redis.Client) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.New(log, nil)
	t.Cleanup(reg.CloseAll)

	var routerOpts []broadcast.Option
	var relay *broadcast.Relay
	if rdb != nil {
		relay = broadcast.NewRelay(rdb, "memotag:e2e", log)
		routerOpts = append(routerOpts, broadcast.WithPublisher(relay))
	}
	router := broadcast.NewRouter(reg, broadcast.Config{PushTimeout: time.Second}, log, routerOpts...)
	if relay != nil {
		go func() {
			_ = relay.Run(ctx, func(ctx context.Context, itemID string, payload []byte) {
				router.Deliver(ctx, itemID, payload)
			})
		}()
		select {
		case <-relay.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not subscribe")
		}
	}

	box := &outbox{}
	policy := recipients.NewPolicy([]string{"ops@co.com", "lead@co.com"}, []string{"管理者", "admin"})
	dispatcher := dispatch.NewService(dispatch.Config{MaxConcurrency: 2}, policy, box,
		gateway.NewComposer("https://memotag.digital", time.UTC), log)

	store := mapStore{
		"drill_c": {ItemID: "drill_c", Name: "Drill C", Location: "Bay 3", Status: models.StatusWorking, UserEmail: "a@x.com, b@x.com"},
	}
	triggers := trigger.NewService(router, dispatcher, log, trigger.WithItemStore(store))

	wsServer := ws.NewServer(reg, ws.Config{PingInterval: time.Minute}, log)
	server := api.NewServer(api.Config{InternalToken: "s3cret"}, triggers, wsServer, log)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &stack{url: ts.URL, registry: reg, outbox: box}
}

func (s *stack) subscribe(t *testing.T, path string, scope registry.Scope) *websocket.Conn {
	t.Helper()
	before := s.registry.Len(scope)
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, func() bool { return s.registry.Len(scope) == before+1 }, 2*time.Second, 10*time.Millisecond)
	return c
}

func (s *stack) post(t *testing.T, event, body string) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.url+"/internal/events/"+event, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readEnvelope(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// ==========================
// Tests
// ==========================

func TestStatusChange_ReachesItemAndAdminSubscribers(t *testing.T) {
	s := startStack(t, nil)
	item := s.subscribe(t, "/ws/item/drill_c", registry.ItemScope("drill_c"))
	other := s.subscribe(t, "/ws/item/saw_a", registry.ItemScope("saw_a"))
	admin := s.subscribe(t, "/ws/admin", registry.AdminScope())

	result := s.post(t, "status-changed", `{"item_id":"drill_c","status":"NeedsMaintenance"}`)
	assert.Equal(t, float64(2), result["broadcast"].(map[string]interface{})["delivered"])

	for _, c := range []*websocket.Conn{item, admin} {
		env := readEnvelope(t, c)
		assert.Equal(t, "status_update", env["type"])
		data := env["data"].(map[string]interface{})
		assert.Equal(t, "drill_c", data["item_id"])
		assert.Equal(t, "NeedsMaintenance", data["status"])
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "subscriber of another item must not receive the event")
}

func TestMessageCreated_BroadcastsAndNotifies(t *testing.T) {
	s := startStack(t, nil)
	item := s.subscribe(t, "/ws/item/drill_c", registry.ItemScope("drill_c"))

	result := s.post(t, "message-created",
		`{"id":"m-1","item_id":"drill_c","message":"Blade is dull","user_name":"Yuki","msg_type":"issue","send_notification":true}`)

	env := readEnvelope(t, item)
	assert.Equal(t, "new_message", env["type"])
	assert.Equal(t, "Blade is dull", env["data"].(map[string]interface{})["message"])

	dispatch := result["dispatch"].(map[string]interface{})
	assert.Equal(t, float64(2), dispatch["attempted"])
	assert.Equal(t, float64(2), dispatch["succeeded"])
	assert.ElementsMatch(t, []string{"ops@co.com", "lead@co.com"}, s.outbox.recipients())
}

func TestMessageCreated_AdminAuthorNotifiesItemContacts(t *testing.T) {
	s := startStack(t, nil)

	s.post(t, "message-created", `{"item_id":"drill_c","message":"Fixed","user_name":"admin","msg_type":"fixed","send_notification":true}`)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, s.outbox.recipients())
}

func TestMessageCreated_WithoutNotificationSendsNothing(t *testing.T) {
	s := startStack(t, nil)
	admin := s.subscribe(t, "/ws/admin", registry.AdminScope())

	result := s.post(t, "message-created", `{"item_id":"drill_c","message":"note","send_notification":false}`)

	env := readEnvelope(t, admin)
	assert.Equal(t, "匿名", env["data"].(map[string]interface{})["user_name"])
	assert.Nil(t, result["dispatch"])
	assert.Empty(t, s.outbox.recipients())
}

func TestProgressCompletion_SendsProgressThenStatus(t *testing.T) {
	s := startStack(t, nil)
	item := s.subscribe(t, "/ws/item/drill_c", registry.ItemScope("drill_c"))

	s.post(t, "progress-changed", `{"item_id":"drill_c","progress":100}`)

	first := readEnvelope(t, item)
	assert.Equal(t, "progress_update", first["type"])
	assert.Equal(t, float64(100), first["data"].(map[string]interface{})["progress"])

	second := readEnvelope(t, item)
	assert.Equal(t, "status_update", second["type"])
	assert.Equal(t, "Completed", second["data"].(map[string]interface{})["status"])
}

func TestRelay_DeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	a := startStack(t, newClient())
	b := startStack(t, newClient())
	remote := b.subscribe(t, "/ws/item/drill_c", registry.ItemScope("drill_c"))

	a.post(t, "status-changed", `{"item_id":"drill_c","status":"Delayed"}`)

	env := readEnvelope(t, remote)
	assert.Equal(t, "status_update", env["type"])
	assert.Equal(t, "Delayed", env["data"].(map[string]interface{})["status"])
}

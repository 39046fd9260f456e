package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/database"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/media"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/oplog"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testSigningSecret = "server-test-secret"

type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) Enqueue(event notify.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return true
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type recordingSender struct {
	mu            sync.Mutex
	notifications []notify.Notification
	fail          bool
}

func (s *recordingSender) Send(_ context.Context, _ string, notification notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("provider unavailable")
	}
	s.notifications = append(s.notifications, notification)
	return nil
}

type serverFixture struct {
	db       *gorm.DB
	handler  http.Handler
	hub      *realtime.Hub
	issuer   *auth.TokenIssuer
	notifier *capturingNotifier
	sender   *recordingSender
	space    spaces.Space
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: dsn}, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	space := spaces.Space{Code: "lobby", OwnerUserID: "alice"}
	if err := db.Create(&space).Error; err != nil {
		t.Fatalf("failed to create space: %v", err)
	}
	if err := db.Create(&spaces.Member{SpaceID: space.ID, UserID: "bob"}).Error; err != nil {
		t.Fatalf("failed to create member: %v", err)
	}
	if err := db.Create(&spaces.Profile{SpaceID: space.ID, UserID: "bob", Alias: "Bob"}).Error; err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	clock := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	metricSet := metrics.New()
	hub := realtime.NewHub(realtime.HubConfig{Observer: metricSet})
	spaceService, err := spaces.NewService(spaces.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create space service: %v", err)
	}
	recorder, err := oplog.NewRecorder(oplog.RecorderConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	notifier := &capturingNotifier{}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database: db,
		Hub:      hub,
		Spaces:   spaceService,
		Media:    media.NewResolver(media.Config{}),
		Notifier: notifier,
		Recorder: recorder,
		Observer: metricSet,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to create chat service: %v", err)
	}
	sender := &recordingSender{}
	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Database: db,
		Presence: hub,
		Senders:  map[string]notify.Sender{notify.ProviderWebhook: sender},
		Observer: metricSet,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	notifyService, err := notify.NewService(notify.ServiceConfig{Database: db, Spaces: spaceService, Dispatcher: dispatcher})
	if err != nil {
		t.Fatalf("failed to create notify service: %v", err)
	}
	resolver, err := auth.NewResolver(auth.ResolverConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Resolver:       resolver,
		Spaces:         spaceService,
		Chat:           chatService,
		Notify:         notifyService,
		Hub:            hub,
		Metrics:        metricSet,
		AllowedOrigins: []string{"https://app.example.com"},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &serverFixture{
		db:       db,
		handler:  handler,
		hub:      hub,
		issuer:   issuer,
		notifier: notifier,
		sender:   sender,
		space:    space,
	}
}

func (f *serverFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.Issue(userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *serverFixture) do(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body != "" {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	} else {
		request = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		request.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

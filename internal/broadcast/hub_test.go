package broadcast

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoanghai1803/autopulse/internal/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_DeliversEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, hub, 2)

	item := &models.NormalizedItem{Title: "Ford recalls F-150", URL: "https://news.example/ford"}
	hub.Publish(NewArticle(7, "Auto Wire", item))

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON error: %v", err)
		}
		if ev.Type != EventNewArticle {
			t.Errorf("Type = %q, want %q", ev.Type, EventNewArticle)
		}
		if ev.Article.ID != 7 || ev.Article.Source != "Auto Wire" || ev.Article.Title != "Ford recalls F-150" {
			t.Errorf("Article = %+v", ev.Article)
		}
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{Type: EventNewArticle})
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", hub.Clients())
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func TestArticleUpdated_UsesClassification(t *testing.T) {
	a := &models.Article{
		ID:    3,
		Title: "Original headline",
		Classification: &models.Classification{
			AITitle:       "Rewritten headline",
			Summary:       "Short summary.",
			FinalIndustry: models.IndustryAutomotive,
			Category:      "Launch",
			Sentiment:     "positive",
			Tags:          []string{"ev"},
		},
	}
	ev := ArticleUpdated(a)
	if ev.Type != EventArticleUpdated {
		t.Errorf("Type = %q", ev.Type)
	}
	if ev.Article.AITitle != "Rewritten headline" || ev.Article.Industry != models.IndustryAutomotive {
		t.Errorf("Article = %+v", ev.Article)
	}
}

package streaming

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ChartBridge/internal/model"

	"github.com/gorilla/websocket"
)

func TestWSTransport_ReconcilerOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch := r.URL.Query().Get("channel")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"`+ch+`","price":10,"time":1700000000}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"`+ch+`","price":12,"time":1700000001}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	r := NewReconciler(NewWSTransport(wsURL, ""), Options{RetryDelay: time.Millisecond})
	defer r.Close()

	bars := make(chan model.Bar, 4)
	if _, err := r.Subscribe("X", "1", nil, "", func(b model.Bar) { bars <- b }, nil); err != nil {
		t.Fatal(err)
	}

	var last model.Bar
	for i := 0; i < 2; i++ {
		select {
		case last = <-bars:
		case <-time.After(2 * time.Second):
			t.Fatal("bar not delivered")
		}
	}
	if last.Open != 10 || last.Close != 12 || last.High != 12 || last.Low != 10 {
		t.Errorf("bar = %+v", last)
	}
}

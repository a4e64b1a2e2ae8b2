package server

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pulsevote/api.pulsevote.dev/broker"
	"github.com/pulsevote/api.pulsevote.dev/poll"
	"github.com/pulsevote/api.pulsevote.dev/polltest"
)

const testAdminPassword = "hunter2"

type testEnv struct {
	app    *fiber.App
	store  *polltest.MemStore
	broker *broker.Broker
}

func newTestEnv() *testEnv {
	store := polltest.NewMemStore()
	rooms := broker.New()
	return &testEnv{
		app: newApp(Deps{
			Store:         store,
			Broker:        rooms,
			Ingestor:      poll.NewIngestor(store, rooms, nil),
			AdminPassword: testAdminPassword,
		}),
		store:  store,
		broker: rooms,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := stdjson.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req, int(5*time.Second/time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	decoded := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > 0 && data[0] == '{' {
		if err := stdjson.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("bad response body %q: %v", data, err)
		}
	}
	return resp, decoded
}

type chanObserver struct {
	ch chan broker.Message
}

func newChanObserver() *chanObserver {
	return &chanObserver{ch: make(chan broker.Message, 16)}
}

func (o *chanObserver) Send(msg broker.Message) error {
	o.ch <- msg
	return nil
}

func seedPoll(e *testEnv) (pollID, questionID, optA, optB int) {
	pollID = e.store.AddPoll("Lunch")
	questionID = e.store.AddQuestion(pollID, "Where?", poll.QuestionSingle)
	optA = e.store.AddOption(questionID, "Tacos")
	optB = e.store.AddOption(questionID, "Ramen")
	return
}

func TestSubmitVote(t *testing.T) {
	e := newTestEnv()
	_, _, optA, _ := seedPoll(e)

	resp, body := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["sessionId"] == "" || body["sessionId"] == nil {
		t.Error("no sessionId returned")
	}
	if body["message"] != "Vote submitted successfully" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestSubmitVoteEmptySelection(t *testing.T) {
	e := newTestEnv()
	seedPoll(e)

	resp, body := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "Invalid option IDs" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSubmitVoteResubmitSameOption(t *testing.T) {
	e := newTestEnv()
	_, _, optA, _ := seedPoll(e)

	_, first := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	session := first["sessionId"].(string)

	// Resubmitting the identical selection is a success, not a conflict,
	// and leaves exactly one persisted row.
	resp, body := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
		"sessionId": session,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if rows := e.store.VoteRows(optA); rows != 1 {
		t.Errorf("persisted rows = %d, want 1", rows)
	}
}

func TestSubmitVoteAlreadyVoted(t *testing.T) {
	e := newTestEnv()
	_, questionID, optA, optB := seedPoll(e)

	_, first := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	session := first["sessionId"].(string)

	resp, body := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optB},
		"sessionId": session,
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "Already voted for this question" {
		t.Errorf("error = %v", body["error"])
	}
	if int(body["questionId"].(float64)) != questionID {
		t.Errorf("questionId = %v, want %d", body["questionId"], questionID)
	}
}

func TestSubmitVoteClosedPoll(t *testing.T) {
	e := newTestEnv()
	pollID, _, optA, _ := seedPoll(e)

	if _, err := e.store.ClosePoll(context.Background(), pollID); err != nil {
		t.Fatal(err)
	}

	resp, body := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "Voting has been closed for this poll" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCheckVotes(t *testing.T) {
	e := newTestEnv()
	pollID, _, optA, _ := seedPoll(e)

	_, submitted := e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	session := submitted["sessionId"].(string)

	resp, body := e.request(t, "GET", "/api/votes/check/"+itoa(pollID)+"/"+session, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["hasVoted"] != true {
		t.Errorf("hasVoted = %v, want true", body["hasVoted"])
	}

	resp, body = e.request(t, "GET", "/api/votes/check/"+itoa(pollID)+"/fresh-session", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["hasVoted"] != false {
		t.Errorf("hasVoted = %v, want false", body["hasVoted"])
	}
}

func TestGetPollNotFound(t *testing.T) {
	e := newTestEnv()

	resp, _ := e.request(t, "GET", "/api/polls/12345", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetPollWithQuestions(t *testing.T) {
	e := newTestEnv()
	pollID, _, _, _ := seedPoll(e)

	resp, body := e.request(t, "GET", "/api/polls/"+itoa(pollID), nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	questions, ok := body["questions"].([]interface{})
	if !ok || len(questions) != 1 {
		t.Fatalf("questions = %v, want one question", body["questions"])
	}
}

func TestGetResults(t *testing.T) {
	e := newTestEnv()
	pollID, _, optA, _ := seedPoll(e)

	e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})

	req := httptest.NewRequest("GET", "/api/polls/"+itoa(pollID)+"/results", nil)
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var tallies []poll.QuestionTally
	if err := stdjson.NewDecoder(resp.Body).Decode(&tallies); err != nil {
		t.Fatal(err)
	}
	if len(tallies) != 1 {
		t.Fatalf("got %d tallies, want 1", len(tallies))
	}
	if tallies[0].TotalVotes != 1 {
		t.Errorf("total votes = %d, want 1", tallies[0].TotalVotes)
	}
}

func TestAdminUnauthorized(t *testing.T) {
	e := newTestEnv()
	pollID, _, _, _ := seedPoll(e)

	resp, _ := e.request(t, "PUT", "/api/admin/polls/"+itoa(pollID)+"/close", map[string]interface{}{
		"password": "wrong",
	})
	if resp.StatusCode != 401 {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAdminCreatePoll(t *testing.T) {
	e := newTestEnv()

	resp, body := e.request(t, "POST", "/api/admin/polls", map[string]interface{}{
		"password":    testAdminPassword,
		"title":       "New poll",
		"description": "desc",
		"questions": []map[string]interface{}{
			{"text": "Color?", "type": "single", "options": []string{"Red", "Green"}},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["pollId"] == nil {
		t.Error("no pollId returned")
	}
}

func TestAdminClosePollBroadcasts(t *testing.T) {
	e := newTestEnv()
	pollID, _, optA, _ := seedPoll(e)

	obs := newChanObserver()
	e.broker.Subscribe(pollID, obs)

	resp, _ := e.request(t, "PUT", "/api/admin/polls/"+itoa(pollID)+"/close", map[string]interface{}{
		"password": testAdminPassword,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	select {
	case msg := <-obs.ch:
		if msg.Event != broker.EventPollClosed {
			t.Errorf("event = %q, want %q", msg.Event, broker.EventPollClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pollClosed broadcast")
	}

	// Closing again is a no-op and must not rebroadcast.
	resp, _ = e.request(t, "PUT", "/api/admin/polls/"+itoa(pollID)+"/close", map[string]interface{}{
		"password": testAdminPassword,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("second close status = %d, want 200", resp.StatusCode)
	}
	select {
	case msg := <-obs.ch:
		t.Fatalf("unexpected rebroadcast %q", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}

	// And voting is now rejected.
	resp, _ = e.request(t, "POST", "/api/votes", map[string]interface{}{
		"optionIds": []int{optA},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("vote after close status = %d, want 400", resp.StatusCode)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

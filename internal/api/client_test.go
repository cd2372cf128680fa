package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000/", "secret123")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:5000", c.baseURL, "trailing slash trimmed")
	assert.Equal(t, "secret123", c.secret)
	assert.NotNil(t, c.httpClient)
}

func TestClient_Healthcheck(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	assert.NoError(t, New(server.URL, "").Healthcheck())

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.Error(t, New(failing.URL, "").Healthcheck())

	assert.Error(t, New("http://127.0.0.1:1", "").Healthcheck())
}

func TestClient_FightFlow(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	server := httptest.NewServer(h)
	defer server.Close()
	c := New(server.URL, "s3cret")

	res, err := c.Attempt(AttemptRequest{Boss: kingSlime, Players: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "recorded", res.Status)

	_, err = c.Death(DeathRequest{Boss: kingSlime, Player: "bob"})
	require.NoError(t, err)

	_, err = c.Defeat(DefeatRequest{Boss: kingSlime, Outcomes: []Outcome{
		{Player: "alice", Duration: 3600, HitsTaken: 2, PlayTime: 1000},
		{Player: "bob", Duration: 3000, HitsTaken: 5, PlayTime: 2000},
	}})
	require.NoError(t, err)

	ids, err := c.Players()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	entries, err := c.Leaderboard(kingSlime, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].Player)
	assert.Equal(t, int32(3000), entries[0].Duration)

	_, err = c.ResetPlayer("bob", kingSlime)
	require.NoError(t, err)
	entries, err = c.Leaderboard(kingSlime, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Player)
}

func TestClient_Errors(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	_, err := New(server.URL, "wrong").Death(DeathRequest{Boss: kingSlime, Player: "bob"})
	assert.ErrorContains(t, err, "status 401: invalid secret")

	_, err = New(server.URL, "s3cret").Defeat(DefeatRequest{Boss: kingSlime})
	assert.ErrorContains(t, err, "status 400")

	_, err = New(server.URL, "").Leaderboard(kingSlime, -1)
	assert.NoError(t, err, "a non-positive limit is left to the server default")
}

func TestClient_SendError(t *testing.T) {
	h, _ := newTestRouter(t, errors.New("observer gone"))
	server := httptest.NewServer(h)
	defer server.Close()

	res, err := New(server.URL, "s3cret").Defeat(DefeatRequest{Boss: kingSlime, Outcomes: []Outcome{
		{Player: "alice", Duration: 100},
	}})
	require.NoError(t, err)
	assert.Equal(t, "recorded", res.Status)
	assert.Contains(t, res.SendError, "observer gone")
}

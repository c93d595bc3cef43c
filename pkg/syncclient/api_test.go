// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/pkg/extensions"
	"github.com/sergii-nosachenko/retrospecta/services/journal/observability"
	"github.com/sergii-nosachenko/retrospecta/services/journal/publisher"
	"github.com/sergii-nosachenko/retrospecta/services/journal/routes"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newJournalServer serves the real journal routes over a memory store.
func newJournalServer(t *testing.T, opts extensions.ServiceOptions) (*httptest.Server, *memory.Store) {
	t.Helper()
	reg := prometheus.NewRegistry()
	st := memory.New(nil)
	router := gin.New()
	routes.SetupRoutes(router, routes.Dependencies{
		Store:     st,
		Publisher: publisher.New(st, publisher.Config{}),
		Options:   opts,
		Metrics:   observability.NewMetrics(reg),
		Gatherer:  reg,
		Version:   "test",
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, st
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("::", "", nil)
	assert.Error(t, err)
	_, err = NewClient("unix:///tmp/x", "", nil)
	assert.Error(t, err)
}

func TestClient_Lifecycle(t *testing.T) {
	srv, _ := newJournalServer(t, extensions.DefaultOptions())
	client, err := NewClient(srv.URL, "", nil)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := client.Create(ctx, CreateRequest{
		Situation: "Offered a new role abroad",
		Decision:  "Accepted the offer",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, decision.StatusPending, created.Status)
	assert.True(t, created.IsNew)

	list, err := client.List(ctx, decision.DefaultFilterSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)
	require.Len(t, list.Decisions, 1)
	assert.Equal(t, created.ID, list.Decisions[0].ID)

	read, err := client.MarkRead(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, read.IsNew)

	// Still queued, so a reanalysis is refused.
	_, err = client.Reanalyze(ctx, created.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	require.NoError(t, client.Delete(ctx, created.ID))
	err = client.Delete(ctx, created.ID)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "decision not found")
}

func TestClient_ValidationError(t *testing.T) {
	srv, _ := newJournalServer(t, extensions.DefaultOptions())
	client, err := NewClient(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = client.Create(context.Background(), CreateRequest{Situation: "only half"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid request body", apiErr.Message)
}

func TestClient_BearerToken(t *testing.T) {
	auth, err := extensions.NewStaticTokenProvider(map[string]string{"tok-1": "alice"})
	require.NoError(t, err)
	srv, _ := newJournalServer(t, extensions.DefaultOptions().WithAuth(auth))

	anon, err := NewClient(srv.URL, "", nil)
	require.NoError(t, err)
	_, err = anon.List(context.Background(), decision.DefaultFilterSpec())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	alice, err := NewClient(srv.URL, "tok-1", nil)
	require.NoError(t, err)
	list, err := alice.List(context.Background(), decision.DefaultFilterSpec())
	require.NoError(t, err)
	assert.Empty(t, list.Decisions)
	assert.NotNil(t, list.Decisions)
}

func TestConsumer_AgainstJournalRoutes(t *testing.T) {
	srv, _ := newJournalServer(t, extensions.DefaultOptions())
	client, err := NewClient(srv.URL, "", nil)
	require.NoError(t, err)
	created, err := client.Create(context.Background(), CreateRequest{Situation: "s", Decision: "d"})
	require.NoError(t, err)

	rc := startConsumer(t, ConsumerConfig{BaseURL: srv.URL})
	session := NewSession()

	pending := waitFor(t, rc.c.Messages(), isEvent(decision.EventPending))
	session.Handle(pending.Event)
	assert.Equal(t, 1, session.PendingCount())

	update := waitFor(t, rc.c.Messages(), isEvent(decision.EventUpdate))
	change := session.Handle(update.Event)
	assert.True(t, change.Records)
	require.Len(t, session.Records(), 1)
	assert.Equal(t, created.ID, session.Records()[0].ID)
	assert.Equal(t, 1, session.TotalCount())
}

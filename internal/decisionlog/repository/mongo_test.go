package repository

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDocumentRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	entry := testEntry(node, "s1", "o1", "CONSOLIDATOR", time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	doc := toDocument(entry)
	assert.Equal(t, "15.00", doc.CommissionAmount)
	assert.Equal(t, "2.5", doc.CommissionPct)

	back := fromDocument(&doc)
	assert.Equal(t, entry.ID, back.ID)
	assert.True(t, entry.CommissionAmount.Equal(back.CommissionAmount))
	assert.True(t, entry.CommissionPct.Equal(back.CommissionPct))
	assert.Equal(t, entry.CreatedAt, back.CreatedAt)
	assert.Equal(t, "JFK", back.Metadata["origin"])
}

func TestBuildFilter(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cursorAt := start.Add(time.Hour)

	query := buildFilter(domain.ListFilter{
		SessionID: " s1 ",
		Channel:   "DUFFEL",
		StartAt:   &start,
		Cursor:    &domain.Cursor{ID: snowflake.ID(42), CreatedAt: cursorAt},
	})

	assert.Equal(t, "s1", query["session_id"])
	assert.Equal(t, "DUFFEL", query["channel"])
	assert.Equal(t, bson.M{"$gte": start}, query["created_at"])
	or, ok := query["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 2)
	assert.Equal(t, bson.M{"created_at": cursorAt, "_id": bson.M{"$lt": int64(42)}}, or[1])

	assert.Empty(t, buildFilter(domain.ListFilter{}))
}
